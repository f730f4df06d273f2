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

/* Package api exposes the firewall driver to the lifecycle manager over
 * HTTP. The surface is intentionally thin: handlers resolve records
 * through the policy store and hand them to the driver.
 */
package api

import (
	"net/http"

	"github.com/feitnomore/sg-nft-bridge/pkg/driver"
	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	driver driver.FirewallDriver
	policy store.PolicyReader
}

func NewServer(d driver.FirewallDriver, policy store.PolicyReader) *Server {
	return &Server{driver: d, policy: policy}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/instances/{instanceID}", func(r chi.Router) {
			r.Post("/setup-basic", s.handleSetupBasic)
			r.Post("/prepare", s.handlePrepare)
			r.Post("/apply", s.handleApply)
			r.Post("/unfilter", s.handleUnfilter)
			r.Get("/filter", s.handleFilterExists)
		})
		r.Route("/security-groups/{groupID}", func(r chi.Router) {
			r.Post("/refresh-rules", s.handleRefreshRules)
			r.Post("/refresh-members", s.handleRefreshMembers)
		})
	})

	return r
}
