// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api mounts the HTTP endpoints of §6: the fanout fabric's wire
// protocol between nodes, and the handful of operational endpoints
// (register, listServers, ping) that hold the fabric together.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/queryhandler"
	"github.com/ClusterCockpit/cc-backend/internal/registry"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// API wires the node's local components to the HTTP endpoints of §6.
// RegisterLimiter and WriteLimiter are optional; nil disables rate
// limiting on the corresponding endpoint.
type API struct {
	QueryHandler    *queryhandler.Handler
	DataManager     datamanager.DataManager
	Registry        *registry.Registry
	RegisterLimiter *rate.Limiter
	WriteLimiter    *rate.Limiter
}

// MountRoutes registers every endpoint of §6 on r.
func (a *API) MountRoutes(r *mux.Router) {
	r.HandleFunc("/counters/{name}/query", a.counterQuery).Methods(http.MethodPost)
	r.HandleFunc("/counters/{name}/info", a.counterInfo).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/batchQuery", a.batchQuery).Methods(http.MethodPost)
	r.HandleFunc("/write/{name}", rateLimited(a.WriteLimiter, a.write)).Methods(http.MethodPost)
	r.HandleFunc("/transfer/{name}", a.transfer).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/register", rateLimited(a.RegisterLimiter, a.register)).Methods(http.MethodPost)
	r.HandleFunc("/listServers", a.listServers).Methods(http.MethodGet)
	r.HandleFunc("/ping", a.ping).Methods(http.MethodGet)
}

// requestCodec picks the Codec a request body was encoded with, from its
// Content-Type header, defaulting to JSON for an empty or unrecognized
// header the way the outbound HTTPTransport's Accept-Encoding handling
// is similarly lenient.
func requestCodec(r *http.Request) codec.Codec {
	ct := r.Header.Get("Content-Type")
	if c := codec.ByContentType(codec.ContentType(ct)); c != nil {
		return c
	}
	return codec.JSON
}

// responseCodec picks the Codec to encode a response with, from the
// request's Accept header.
func responseCodec(r *http.Request) codec.Codec {
	accept := r.Header.Get("Accept")
	if c := codec.ByContentType(codec.ContentType(accept)); c != nil {
		return c
	}
	return codec.JSON
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	c := responseCodec(r)
	body, err := c.Encode(v)
	if err != nil {
		log.Errorf("API: encoding response with %s: %s", c.ContentType(), err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", string(c.ContentType()))
	w.WriteHeader(status)
	w.Write(body)
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return requestCodec(r).Decode(data, v)
}

func (a *API) counterQuery(w http.ResponseWriter, r *http.Request) {
	counter := mux.Vars(r)["name"]

	var req schema.CounterQueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeBody(w, r, http.StatusBadRequest, &schema.CounterQueryResponse{HTTPCode: http.StatusBadRequest, Error: err.Error()})
		return
	}

	resp := a.QueryHandler.Query(r.Context(), counter, req)
	writeBody(w, r, resp.HTTPCode, resp)
}

func (a *API) counterInfo(w http.ResponseWriter, r *http.Request) {
	counter := mux.Vars(r)["name"]

	var req schema.TieredRequest
	if err := decodeBody(r, &req); err != nil {
		writeBody(w, r, http.StatusBadRequest, &schema.CounterInfoResponse{HTTPCode: http.StatusBadRequest, Error: err.Error()})
		return
	}

	resp := a.QueryHandler.Info(r.Context(), counter, req)
	writeBody(w, r, resp.HTTPCode, resp)
}

func (a *API) batchQuery(w http.ResponseWriter, r *http.Request) {
	var req schema.BatchQueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeBody(w, r, http.StatusBadRequest, &schema.BatchQueryResponse{Details: []schema.RequestDetails{{Status: schema.RequestException, StatusDescription: err.Error()}}})
		return
	}

	resp := a.QueryHandler.Batch(r.Context(), req)
	writeBody(w, r, http.StatusOK, resp)
}

func (a *API) write(w http.ResponseWriter, r *http.Request) {
	counter := mux.Vars(r)["name"]

	var req schema.CounterWriteRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.DataManager.Write(r.Context(), counter, req.Samples); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	counter := mux.Vars(r)["name"]

	start, end := int64(0), int64(1)<<62
	if v := r.URL.Query().Get("start"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			start = parsed
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			end = parsed
		}
	}

	var req schema.TransferRequest
	if err := decodeBody(r, &req); err == nil {
		if req.Start != 0 {
			start = req.Start
		}
		if req.End != 0 {
			end = req.End
		}
	}

	reader, err := a.DataManager.Transfer(r.Context(), counter, start, end)
	if err != nil {
		if errors.Is(err, datamanager.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, reader); err != nil {
		log.Warnf("API: streaming transfer of %s: %s", counter, err.Error())
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var reg schema.ServerRegistration
	if err := decodeBody(r, &reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if reg.Server.Hostname == "" {
		http.Error(w, "registration is missing a hostname", http.StatusBadRequest)
		return
	}

	a.Registry.InsertOrUpdate(reg)
	w.WriteHeader(http.StatusOK)
}

func (a *API) listServers(w http.ResponseWriter, r *http.Request) {
	peers := a.Registry.Peers()
	servers := make([]schema.ServerInfo, 0, len(peers))
	for _, p := range peers {
		servers = append(servers, p.Server)
	}
	writeBody(w, r, http.StatusOK, &schema.ListServerResponse{Servers: servers})
}

func (a *API) ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Service is available.")
}
