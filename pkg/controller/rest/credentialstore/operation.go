/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentialstore serves the credential store commands over REST.
package credentialstore

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vdcs/dcx-go/pkg/controller/command/credentialstore"
	"github.com/vdcs/dcx-go/pkg/controller/internal/cmdutil"
	"github.com/vdcs/dcx-go/pkg/controller/rest"
)

const (
	credentialsOperationID = "/credentials"
	credentialPath         = credentialsOperationID + "/{id}"
	queryPath              = credentialsOperationID + "/query"
)

// Operation contains the credential store REST operations.
type Operation struct {
	handlers []rest.Handler
	command  *credentialstore.Command
}

// New returns new credential store rest client instance.
func New(cmd *credentialstore.Command) *Operation {
	o := &Operation{command: cmd}
	o.registerHandler()

	return o
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []rest.Handler {
	return o.handlers
}

// registerHandler register handlers to be exposed from this service as REST API endpoints.
func (o *Operation) registerHandler() {
	o.handlers = []rest.Handler{
		cmdutil.NewHTTPHandler(credentialsOperationID, http.MethodPost, o.Save),
		cmdutil.NewHTTPHandler(credentialsOperationID, http.MethodDelete, o.Clear),
		cmdutil.NewHTTPHandler(queryPath, http.MethodPost, o.Query),
		cmdutil.NewHTTPHandler(credentialPath, http.MethodGet, o.Get),
		cmdutil.NewHTTPHandler(credentialPath, http.MethodDelete, o.Delete),
	}
}

// Save swagger:route POST /credentials credentialstore saveCredentialReq
//
// Stores a credential.
//
// Responses:
//    default: genericError
//        200: saveCredentialRes
func (o *Operation) Save(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Save, rw, req.Body)
}

// Get swagger:route GET /credentials/{id} credentialstore getCredentialReq
//
// Retrieves a credential by id.
//
// Responses:
//    default: genericError
//        200: credentialRecordRes
func (o *Operation) Get(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Get, rw, idArg(req))
}

// Delete swagger:route DELETE /credentials/{id} credentialstore deleteCredentialReq
//
// Removes a credential by id.
//
// Responses:
//    default: genericError
func (o *Operation) Delete(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Delete, rw, idArg(req))
}

// Query swagger:route POST /credentials/query credentialstore queryCredentialsReq
//
// Lists the credentials answering a DCQL query.
//
// Responses:
//    default: genericError
//        200: queryCredentialsRes
func (o *Operation) Query(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Query, rw, req.Body)
}

// Clear swagger:route DELETE /credentials credentialstore clearCredentialsReq
//
// Removes every credential.
//
// Responses:
//    default: genericError
func (o *Operation) Clear(rw http.ResponseWriter, req *http.Request) {
	rest.Execute(o.command.Clear, rw, req.Body)
}

func idArg(req *http.Request) *bytes.Buffer {
	return bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, mux.Vars(req)["id"]))
}
