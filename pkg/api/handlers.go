/**
 * Copyright 2025 Marcelo Parisi (github.com/feitnomore)
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/go-chi/chi/v5"
	"k8s.io/klog/v2"
)

type statusResponse struct {
	Status string `json:"status"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		klog.Errorf("[writeJSON] Encoding response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		code = http.StatusNotFound
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

/* resolveInstance loads the instance record and its attachments. */
func (s *Server) resolveInstance(r *http.Request) (*types.Instance, []types.NetworkAttachment, error) {
	instanceID := chi.URLParam(r, "instanceID")
	instance, err := s.policy.Instance(r.Context(), instanceID)
	if err != nil {
		return nil, nil, err
	}
	attachments, err := s.policy.NetworkInfo(r.Context(), instanceID)
	if err != nil {
		return nil, nil, err
	}
	return instance, attachments, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleSetupBasic(w http.ResponseWriter, r *http.Request) {
	instance, attachments, err := s.resolveInstance(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.driver.SetupBasicFiltering(r.Context(), instance, attachments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	instance, attachments, err := s.resolveInstance(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.driver.PrepareInstanceFilter(r.Context(), instance, attachments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if err := s.driver.ApplyInstanceFilter(r.Context(), &types.Instance{ID: instanceID}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

/* handleUnfilter tears down enforcement for an instance. The record may
 * already be gone from the store when teardown runs, so a missing record
 * falls back to a bare identity instead of failing the teardown.
 */
func (s *Server) handleUnfilter(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	instance, err := s.policy.Instance(r.Context(), instanceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, err)
			return
		}
		instance = &types.Instance{ID: instanceID}
	}
	if err := s.driver.UnfilterInstance(r.Context(), instance); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleFilterExists(w http.ResponseWriter, r *http.Request) {
	instance, attachments, err := s.resolveInstance(r)
	if err != nil {
		writeError(w, err)
		return
	}
	exists, err := s.driver.InstanceFilterExists(r.Context(), instance, attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{Exists: exists})
}

func (s *Server) handleRefreshRules(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.driver.RefreshSecurityGroupRules(r.Context(), groupID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleRefreshMembers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.driver.RefreshSecurityGroupMembers(r.Context(), groupID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}
