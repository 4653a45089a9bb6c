/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storage/leveldb"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	spi "github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/vdcs/dcx-go/pkg/chunk/assembler"
	"github.com/vdcs/dcx-go/pkg/controller/command/credentialstore"
	"github.com/vdcs/dcx-go/pkg/controller/rest"
	credentialstorerest "github.com/vdcs/dcx-go/pkg/controller/rest/credentialstore"
	"github.com/vdcs/dcx-go/pkg/store/credential"
	"github.com/vdcs/dcx-go/pkg/transport/chunked"
	"github.com/vdcs/dcx-go/pkg/transport/ws"
)

var logger = log.New("dcx/wallet-rest")

const (
	// api host flag.
	apiHostFlagName      = "api-host"
	apiHostEnvKey        = "DCX_API_HOST"
	apiHostFlagShorthand = "a"
	apiHostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + apiHostEnvKey

	// api token flag.
	apiTokenFlagName      = "api-token"
	apiTokenEnvKey        = "DCX_API_TOKEN" // nolint:gosec
	apiTokenFlagShorthand = "t"
	apiTokenFlagUsage     = "Check for bearer token in the authorization header (optional)." +
		" Alternatively, this can be set with the following environment variable: " + apiTokenEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "DCX_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database to store credentials in. " +
		"Supported options: mem, leveldb. " +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databaseURLFlagName      = "database-url"
	databaseURLEnvKey        = "DCX_DATABASE_URL"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The database location. The directory path for leveldb, not needed for mem." +
		" Alternatively, this can be set with the following environment variable: " + databaseURLEnvKey

	databaseTimeoutFlagName  = "database-timeout"
	databaseTimeoutFlagUsage = "Total time in seconds to wait until the db is available before giving up." +
		" Default: " + databaseTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + databaseTimeoutEnvKey
	databaseTimeoutEnvKey  = "DCX_DATABASE_TIMEOUT"
	databaseTimeoutDefault = "30"

	// log level.
	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "DCX_LOG_LEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	tlsCertFileFlagName      = "tls-cert-file"
	tlsCertFileEnvKey        = "TLS_CERT_FILE"
	tlsCertFileFlagShorthand = "c"
	tlsCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + tlsCertFileEnvKey

	tlsKeyFileFlagName      = "tls-key-file"
	tlsKeyFileEnvKey        = "TLS_KEY_FILE"
	tlsKeyFileFlagShorthand = "k"
	tlsKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + tlsKeyFileEnvKey

	// store chunk size flag.
	chunkSizeFlagName  = "chunk-size"
	chunkSizeEnvKey    = "DCX_CHUNK_SIZE"
	chunkSizeFlagUsage = "Largest credential chunk written to the database, in bytes. Defaults to 1950." +
		" Alternatively, this can be set with the following environment variable: " + chunkSizeEnvKey

	// backend value cap flag.
	maxValueSizeFlagName  = "max-value-size"
	maxValueSizeEnvKey    = "DCX_MAX_VALUE_SIZE"
	maxValueSizeFlagUsage = "Largest value the database accepts, in bytes. Defaults to 2048, 0 disables the cap." +
		" Alternatively, this can be set with the following environment variable: " + maxValueSizeEnvKey

	// inbound assembly ttl flag.
	chunkTTLFlagName  = "chunk-ttl"
	chunkTTLEnvKey    = "DCX_CHUNK_TTL"
	chunkTTLFlagUsage = "How long a partially received inbound payload is kept, e.g. 30s. Defaults to 30s." +
		" Alternatively, this can be set with the following environment variable: " + chunkTTLEnvKey

	// reply pacing flag.
	chunkPacingFlagName  = "chunk-pacing"
	chunkPacingEnvKey    = "DCX_CHUNK_PACING"
	chunkPacingFlagUsage = "Pause between two outbound fragments, e.g. 100ms. Defaults to 100ms." +
		" Alternatively, this can be set with the following environment variable: " + chunkPacingEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"

	credentialStoreName = "credentials"

	// inboundPath accepts websocket connections carrying chunked credentials.
	inboundPath = "/inbound"
)

var errMissingHost = errors.New("host not provided")

type walletParameters struct {
	server                  server
	host                    string
	tlsCertFile, tlsKeyFile string
	token                   string
	dbParam                 *dbParam
	chunkSize               int
	maxValueSize            int
	chunkTTL                time.Duration
	chunkPacing             time.Duration
}

type dbParam struct {
	dbType  string
	url     string
	timeout uint64
}

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(url string) (spi.Provider, error){
	databaseTypeMemOption: func(_ string) (spi.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
	databaseTypeLevelDBOption: func(path string) (spi.Provider, error) {
		if path == "" {
			return nil, errors.New("leveldb requires a database url")
		}

		return leveldb.NewProvider(path), nil
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return http.ListenAndServeTLS(host, certFile, keyFile, router)
	}

	return http.ListenAndServe(host, router) // nolint:gosec
}

// Cmd returns the Cobra start command.
func Cmd(server server) (*cobra.Command, error) {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd, nil
}

func createStartCMD(server server) *cobra.Command { //nolint: funlen
	return &cobra.Command{
		Use:   "start",
		Short: "Start a wallet",
		Long:  `Start a wallet credential store controller`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
			if err != nil {
				return err
			}

			err = setLogLevel(logLevel)
			if err != nil {
				return err
			}

			host, err := getUserSetVar(cmd, apiHostFlagName, apiHostEnvKey, false)
			if err != nil {
				return err
			}

			token, err := getUserSetVar(cmd, apiTokenFlagName, apiTokenEnvKey, true)
			if err != nil {
				return err
			}

			dbParam, err := getDBParam(cmd)
			if err != nil {
				return err
			}

			tlsCertFile, err := getUserSetVar(cmd, tlsCertFileFlagName, tlsCertFileEnvKey, true)
			if err != nil {
				return err
			}

			tlsKeyFile, err := getUserSetVar(cmd, tlsKeyFileFlagName, tlsKeyFileEnvKey, true)
			if err != nil {
				return err
			}

			chunkSize, err := getInt(cmd, chunkSizeFlagName, chunkSizeEnvKey, credential.DefaultChunkSize)
			if err != nil {
				return err
			}

			maxValueSize, err := getInt(cmd, maxValueSizeFlagName, maxValueSizeEnvKey, credential.DefaultMaxValueSize)
			if err != nil {
				return err
			}

			chunkTTL, err := getDuration(cmd, chunkTTLFlagName, chunkTTLEnvKey, assembler.DefaultTTL)
			if err != nil {
				return err
			}

			chunkPacing, err := getDuration(cmd, chunkPacingFlagName, chunkPacingEnvKey, chunked.DefaultPacing)
			if err != nil {
				return err
			}

			parameters := &walletParameters{
				server:       server,
				host:         host,
				token:        token,
				dbParam:      dbParam,
				tlsCertFile:  tlsCertFile,
				tlsKeyFile:   tlsKeyFile,
				chunkSize:    chunkSize,
				maxValueSize: maxValueSize,
				chunkTTL:     chunkTTL,
				chunkPacing:  chunkPacing,
			}

			return startWallet(parameters)
		},
	}
}

func getDBParam(cmd *cobra.Command) (*dbParam, error) {
	dbParam := &dbParam{}

	var err error

	dbParam.dbType, err = getUserSetVar(cmd, databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	dbParam.url, err = getUserSetVar(cmd, databaseURLFlagName, databaseURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbTimeout, err := getUserSetVar(cmd, databaseTimeoutFlagName, databaseTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if dbTimeout == "" || dbTimeout == "0" {
		dbTimeout = databaseTimeoutDefault
	}

	t, err := strconv.Atoi(dbTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db timeout %s: %w", dbTimeout, err)
	}

	dbParam.timeout = uint64(t)

	return dbParam, nil
}

func getInt(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	v, err := getUserSetVar(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if v == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %s: %w", flagName, v, err)
	}

	return n, nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string, defaultValue time.Duration) (time.Duration, error) {
	v, err := getUserSetVar(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if v == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %s: %w", flagName, v, err)
	}

	return d, nil
}

func createFlags(startCmd *cobra.Command) {
	// api host flag
	startCmd.Flags().StringP(apiHostFlagName, apiHostFlagShorthand, "", apiHostFlagUsage)

	// api token flag
	startCmd.Flags().StringP(apiTokenFlagName, apiTokenFlagShorthand, "", apiTokenFlagUsage)

	// database type
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)

	// database url
	startCmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)

	// db timeout
	startCmd.Flags().StringP(databaseTimeoutFlagName, "", "", databaseTimeoutFlagUsage)

	// log level
	startCmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)

	// tls cert file
	startCmd.Flags().StringP(tlsCertFileFlagName, tlsCertFileFlagShorthand, "", tlsCertFileFlagUsage)

	// tls key file
	startCmd.Flags().StringP(tlsKeyFileFlagName, tlsKeyFileFlagShorthand, "", tlsKeyFileFlagUsage)

	// chunking
	startCmd.Flags().StringP(chunkSizeFlagName, "", "", chunkSizeFlagUsage)
	startCmd.Flags().StringP(maxValueSizeFlagName, "", "", maxValueSizeFlagUsage)
	startCmd.Flags().StringP(chunkTTLFlagName, "", "", chunkTTLFlagUsage)
	startCmd.Flags().StringP(chunkPacingFlagName, "", "", chunkPacingFlagUsage)
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func validateAuthorizationBearerToken(w http.ResponseWriter, r *http.Request, token string) bool {
	actHdr := r.Header.Get("Authorization")
	expHdr := "Bearer " + token

	if subtle.ConstantTimeCompare([]byte(actHdr), []byte(expHdr)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorised.\n")) // nolint:gosec,errcheck

		return false
	}

	return true
}

func authorizationMiddleware(token string) mux.MiddlewareFunc {
	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validateAuthorizationBearerToken(w, r, token) {
				next.ServeHTTP(w, r)
			}
		})
	}

	return middleware
}

func startWallet(parameters *walletParameters) error {
	if parameters.host == "" {
		return errMissingHost
	}

	handler, err := createHandler(parameters)
	if err != nil {
		return fmt.Errorf("failed to start wallet rest on port [%s] : %w", parameters.host, err)
	}

	logger.Infof("Starting wallet rest on host [%s]", parameters.host)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start wallet rest on port [%s], cause:  %w", parameters.host, err)
	}

	return nil
}

// createHandler wires the credential store to its REST routes and the inbound websocket endpoint.
func createHandler(parameters *walletParameters) (http.Handler, error) {
	store, err := createCredentialStore(parameters)
	if err != nil {
		return nil, err
	}

	cmd, err := credentialstore.New(store)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()

	if parameters.token != "" {
		router.Use(authorizationMiddleware(parameters.token))
	}

	handlers := credentialstorerest.New(cmd).GetRESTHandlers()
	handlers = append(handlers, newInbound(store, parameters))

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	return cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router), nil
}

func createCredentialStore(parameters *walletParameters) (*credential.Store, error) {
	provider, err := createStoreProvider(parameters)
	if err != nil {
		return nil, err
	}

	backend, err := credential.NewSPIBackend(provider, credentialStoreName,
		credential.WithMaxValueSize(parameters.maxValueSize))
	if err != nil {
		return nil, err
	}

	return credential.New(backend, credential.WithChunkSize(parameters.chunkSize))
}

func createStoreProvider(parameters *walletParameters) (spi.Provider, error) {
	provider, supported := supportedStorageProviders[parameters.dbParam.dbType]
	if !supported {
		return nil, fmt.Errorf("database type not set to a valid type." +
			" run start --help to see the available options")
	}

	var store spi.Provider

	err := backoff.RetryNotify(
		func() error {
			var openErr error
			store, openErr = provider(parameters.dbParam.url)

			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), parameters.dbParam.timeout),
		func(retryErr error, t time.Duration) {
			logger.Warnf(
				"failed to connect to storage, will sleep for %s before trying again : %s\n",
				t, retryErr)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage at %s : %w", parameters.dbParam.url, err)
	}

	return store, nil
}

// inbound receives chunked credentials over websocket connections and saves them.
type inbound struct {
	store     *credential.Store
	ttl       time.Duration
	sequencer *chunked.Sequencer
}

// inboundReply is sent back, chunked, for every received payload.
type inboundReply struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

func newInbound(store *credential.Store, parameters *walletParameters) rest.Handler {
	return &inbound{
		store:     store,
		ttl:       parameters.chunkTTL,
		sequencer: chunked.NewSequencer(chunked.WithPacing(parameters.chunkPacing)),
	}
}

func (i *inbound) Path() string {
	return inboundPath
}

func (i *inbound) Method() string {
	return http.MethodGet
}

func (i *inbound) Handle() http.HandlerFunc {
	return i.serve
}

func (i *inbound) serve(w http.ResponseWriter, r *http.Request) {
	ch, err := ws.Accept(w, r)
	if err != nil {
		logger.Errorf("inbound: %v", err)

		return
	}

	defer func() {
		if e := ch.Close(); e != nil {
			logger.Debugf("inbound close: %v", e)
		}
	}()

	asm := assembler.New(assembler.WithTTL(i.ttl))

	sub, err := chunked.Monitor(ch, asm, func(payload []byte, err error) {
		if err != nil {
			logger.Warnf("inbound payload: %v", err)

			return
		}

		// replies are paced; keep the reader free
		go i.save(ch, payload)
	}, chunked.WithSweepInterval(i.ttl))
	if err != nil {
		logger.Errorf("inbound: %v", err)

		return
	}

	defer sub.Remove()

	<-ch.Done()
}

func (i *inbound) save(ch *ws.Channel, payload []byte) {
	reply := &inboundReply{}

	id, err := i.store.Save(toRecord(payload))
	if err != nil {
		logger.Errorf("inbound save: %v", err)

		reply.Error = err.Error()
	} else {
		reply.ID = id
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		logger.Errorf("inbound reply: %v", err)

		return
	}

	if err := i.sequencer.Send(context.Background(), ch, string(raw)); err != nil {
		logger.Warnf("inbound reply: %v", err)
	}
}

// toRecord reads a payload either as a JSON record or as a bare SD-JWT credential.
func toRecord(payload []byte) *credential.Record {
	record := &credential.Record{}

	if err := json.Unmarshal(payload, record); err == nil && record.Credential != "" {
		if record.Format == "" {
			record.Format = credential.FormatSDJWT
		}

		return record
	}

	return &credential.Record{Credential: string(payload), Format: credential.FormatSDJWT}
}
