/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentialstore exposes the chunked credential store as controller commands.
package credentialstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/vdcs/dcx-go/pkg/controller/command"
	"github.com/vdcs/dcx-go/pkg/controller/internal/cmdutil"
	"github.com/vdcs/dcx-go/pkg/doc/dcql"
	"github.com/vdcs/dcx-go/pkg/internal/logutil"
	"github.com/vdcs/dcx-go/pkg/store/credential"
)

var logger = log.New("dcx/command/credentialstore")

// Error codes.
const (
	// InvalidRequestErrorCode is typically a code for invalid requests.
	InvalidRequestErrorCode = command.Code(iota + command.CredentialStore)

	// SaveCredentialErrorCode for save credential error.
	SaveCredentialErrorCode

	// GetCredentialErrorCode for get credential error.
	GetCredentialErrorCode

	// DeleteCredentialErrorCode for delete credential error.
	DeleteCredentialErrorCode

	// QueryCredentialsErrorCode for credential query error.
	QueryCredentialsErrorCode

	// ClearErrorCode for clear store error.
	ClearErrorCode
)

const (
	// command name.
	commandName = "credentialstore"

	// command methods.
	saveCommandMethod   = "Save"
	getCommandMethod    = "Get"
	deleteCommandMethod = "Delete"
	queryCommandMethod  = "Query"
	clearCommandMethod  = "Clear"

	// error messages.
	errEmptyCredential   = "credential is mandatory"
	errEmptyCredentialID = "credential id is mandatory"

	// log constants.
	credentialID = "credentialID"
)

// Command contains the credential store controller operations.
type Command struct {
	store *credential.Store
}

// New returns new credential store controller command instance.
func New(store *credential.Store) (*Command, error) {
	if store == nil {
		return nil, errors.New("credential store is mandatory")
	}

	return &Command{store: store}, nil
}

// GetHandlers returns list of all commands supported by this controller command.
func (o *Command) GetHandlers() []command.Handler {
	return []command.Handler{
		cmdutil.NewCommandHandler(commandName, saveCommandMethod, o.Save),
		cmdutil.NewCommandHandler(commandName, getCommandMethod, o.Get),
		cmdutil.NewCommandHandler(commandName, deleteCommandMethod, o.Delete),
		cmdutil.NewCommandHandler(commandName, queryCommandMethod, o.Query),
		cmdutil.NewCommandHandler(commandName, clearCommandMethod, o.Clear),
	}
}

// Save stores a credential and responds with its id.
func (o *Command) Save(rw io.Writer, req io.Reader) command.Error {
	var request SaveRequest

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, commandName, saveCommandMethod, "request decode : "+err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.Credential == "" {
		logutil.LogDebug(logger, commandName, saveCommandMethod, errEmptyCredential)

		return command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyCredential))
	}

	if request.Format == "" {
		request.Format = credential.FormatSDJWT
	}

	id, err := o.store.Save(&credential.Record{Credential: request.Credential, Format: request.Format})
	if err != nil {
		logutil.LogError(logger, commandName, saveCommandMethod, "save credential : "+err.Error())

		return command.NewExecuteError(SaveCredentialErrorCode, fmt.Errorf("save credential : %w", err))
	}

	command.WriteNillableResponse(rw, &SaveResponse{ID: id}, logger)

	logutil.LogDebug(logger, commandName, saveCommandMethod, "success",
		logutil.CreateKeyValueString(credentialID, id))

	return nil
}

// Get retrieves one credential by id.
func (o *Command) Get(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := decodeIDArg(req, getCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	record, err := o.store.Load(request.ID)
	if err != nil {
		logutil.LogError(logger, commandName, getCommandMethod, "get credential : "+err.Error(),
			logutil.CreateKeyValueString(credentialID, request.ID))

		return command.NewExecuteError(GetCredentialErrorCode, fmt.Errorf("get credential : %w", err))
	}

	if record == nil {
		logutil.LogDebug(logger, commandName, getCommandMethod, "not found",
			logutil.CreateKeyValueString(credentialID, request.ID))

		return command.NewNotFoundError(GetCredentialErrorCode,
			fmt.Errorf("get credential : no credential [%s]", request.ID))
	}

	command.WriteNillableResponse(rw, &CredentialRecord{
		ID:         request.ID,
		Credential: record.Credential,
		Format:     record.Format,
	}, logger)

	logutil.LogDebug(logger, commandName, getCommandMethod, "success",
		logutil.CreateKeyValueString(credentialID, request.ID))

	return nil
}

// Delete removes one credential by id. Removing an absent credential succeeds.
func (o *Command) Delete(rw io.Writer, req io.Reader) command.Error {
	request, cmdErr := decodeIDArg(req, deleteCommandMethod)
	if cmdErr != nil {
		return cmdErr
	}

	if err := o.store.Delete(request.ID); err != nil {
		logutil.LogError(logger, commandName, deleteCommandMethod, "delete credential : "+err.Error(),
			logutil.CreateKeyValueString(credentialID, request.ID))

		return command.NewExecuteError(DeleteCredentialErrorCode, fmt.Errorf("delete credential : %w", err))
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, commandName, deleteCommandMethod, "success",
		logutil.CreateKeyValueString(credentialID, request.ID))

	return nil
}

// Query lists the credentials selected by a DCQL query, or every credential when the query is omitted.
func (o *Command) Query(rw io.Writer, req io.Reader) command.Error {
	var request QueryRequest

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, commandName, queryCommandMethod, "request decode : "+err.Error())

		return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	var matcher credential.Matcher

	if len(request.Query) > 0 && string(request.Query) != "null" {
		q, e := dcql.ParseJSON(request.Query)
		if e != nil {
			logutil.LogInfo(logger, commandName, queryCommandMethod, "parse query : "+e.Error())

			return command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("parse query : %w", e))
		}

		matcher = NewMatcher(q)
	}

	credentials, err := o.store.List(matcher)
	if err != nil {
		logutil.LogError(logger, commandName, queryCommandMethod, "query credentials : "+err.Error())

		return command.NewExecuteError(QueryCredentialsErrorCode, fmt.Errorf("query credentials : %w", err))
	}

	response := &QueryResponse{Credentials: make([]*CredentialRecord, 0, len(credentials))}

	for _, c := range credentials {
		response.Credentials = append(response.Credentials, &CredentialRecord{
			ID:         c.ID,
			Credential: c.Record.Credential,
			Format:     c.Record.Format,
			Claims:     c.Claims,
		})
	}

	command.WriteNillableResponse(rw, response, logger)

	logutil.LogDebug(logger, commandName, queryCommandMethod, "success",
		logutil.CreateKeyValueString("count", fmt.Sprint(len(response.Credentials))))

	return nil
}

// Clear removes every stored credential.
func (o *Command) Clear(rw io.Writer, _ io.Reader) command.Error {
	if err := o.store.Clear(); err != nil {
		logutil.LogError(logger, commandName, clearCommandMethod, "clear : "+err.Error())

		return command.NewExecuteError(ClearErrorCode, fmt.Errorf("clear : %w", err))
	}

	command.WriteNillableResponse(rw, nil, logger)

	logutil.LogDebug(logger, commandName, clearCommandMethod, "success")

	return nil
}

func decodeIDArg(req io.Reader, method string) (*IDArg, command.Error) {
	var request IDArg

	err := json.NewDecoder(req).Decode(&request)
	if err != nil {
		logutil.LogInfo(logger, commandName, method, "request decode : "+err.Error())

		return nil, command.NewValidationError(InvalidRequestErrorCode, fmt.Errorf("request decode : %w", err))
	}

	if request.ID == "" {
		logutil.LogDebug(logger, commandName, method, errEmptyCredentialID)

		return nil, command.NewValidationError(InvalidRequestErrorCode, errors.New(errEmptyCredentialID))
	}

	return &request, nil
}
