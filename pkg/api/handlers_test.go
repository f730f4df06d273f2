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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* fakeDriver records invocations and answers from canned values. */
type fakeDriver struct {
	calls      []string
	failWith   error
	exists     bool
	lastUnfilt *types.Instance
}

func (d *fakeDriver) SetupBasicFiltering(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	d.calls = append(d.calls, "setup-basic "+instance.ID)
	return d.failWith
}

func (d *fakeDriver) PrepareInstanceFilter(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	d.calls = append(d.calls, "prepare "+instance.ID)
	return d.failWith
}

func (d *fakeDriver) ApplyInstanceFilter(ctx context.Context, instance *types.Instance) error {
	d.calls = append(d.calls, "apply "+instance.ID)
	return d.failWith
}

func (d *fakeDriver) UnfilterInstance(ctx context.Context, instance *types.Instance) error {
	d.calls = append(d.calls, "unfilter "+instance.ID)
	d.lastUnfilt = instance
	return d.failWith
}

func (d *fakeDriver) RefreshSecurityGroupRules(ctx context.Context, groupID string) error {
	d.calls = append(d.calls, "refresh-rules "+groupID)
	return d.failWith
}

func (d *fakeDriver) RefreshSecurityGroupMembers(ctx context.Context, groupID string) error {
	d.calls = append(d.calls, "refresh-members "+groupID)
	return d.failWith
}

func (d *fakeDriver) InstanceFilterExists(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) (bool, error) {
	d.calls = append(d.calls, "exists "+instance.ID)
	return d.exists, d.failWith
}

/* fakeReader serves a single known instance. */
type fakeReader struct {
	known string
}

func (p *fakeReader) Instance(ctx context.Context, instanceID string) (*types.Instance, error) {
	if instanceID != p.known {
		return nil, store.ErrNotFound
	}
	return &types.Instance{ID: instanceID, Name: "instance-one"}, nil
}

func (p *fakeReader) NetworkInfo(ctx context.Context, instanceID string) ([]types.NetworkAttachment, error) {
	return []types.NetworkAttachment{
		{Mapping: types.Mapping{MAC: "aa:bb:cc:dd:ee:ff", IPs: []string{"10.0.0.5"}}},
	}, nil
}

func (p *fakeReader) SecurityGroupsForInstance(ctx context.Context, instanceID string) ([]types.SecurityGroup, error) {
	return nil, nil
}

func (p *fakeReader) RulesForGroup(ctx context.Context, groupID string) ([]types.SecurityGroupRule, error) {
	return nil, nil
}

func (p *fakeReader) InstancesForGroup(ctx context.Context, groupID string) ([]string, error) {
	return nil, nil
}

func testServer(d *fakeDriver) http.Handler {
	return NewServer(d, &fakeReader{known: "inst-1"}).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, testServer(&fakeDriver{}), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestPrepareEndpoint(t *testing.T) {
	d := &fakeDriver{}
	rec := doRequest(t, testServer(d), http.MethodPost, "/v1/instances/inst-1/prepare")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"prepare inst-1"}, d.calls)
}

func TestPrepareUnknownInstance(t *testing.T) {
	d := &fakeDriver{}
	rec := doRequest(t, testServer(d), http.MethodPost, "/v1/instances/inst-missing/prepare")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, d.calls)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
}

func TestPrepareDriverFailure(t *testing.T) {
	d := &fakeDriver{failWith: errors.New("commit failed")}
	rec := doRequest(t, testServer(d), http.MethodPost, "/v1/instances/inst-1/prepare")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnfilterMissingRecordStillUnfilters(t *testing.T) {
	d := &fakeDriver{}
	rec := doRequest(t, testServer(d), http.MethodPost, "/v1/instances/inst-gone/unfilter")

	/* The record is gone at teardown time, the driver still runs with the
	 * bare identity. */
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, d.lastUnfilt)
	assert.Equal(t, "inst-gone", d.lastUnfilt.ID)
	assert.Empty(t, d.lastUnfilt.Name)
}

func TestFilterExistsEndpoint(t *testing.T) {
	/* Test case 1: driver says present */
	d := &fakeDriver{exists: true}
	rec := doRequest(t, testServer(d), http.MethodGet, "/v1/instances/inst-1/filter")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body existsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Exists)

	/* Test case 2: driver says missing, still a 200 with exists=false */
	d = &fakeDriver{exists: false}
	rec = doRequest(t, testServer(d), http.MethodGet, "/v1/instances/inst-1/filter")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Exists)
}

func TestSecurityGroupEndpoints(t *testing.T) {
	d := &fakeDriver{}
	h := testServer(d)

	rec := doRequest(t, h, http.MethodPost, "/v1/security-groups/g1/refresh-rules")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/security-groups/g1/refresh-members")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"refresh-rules g1", "refresh-members g1"}, d.calls)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, testServer(&fakeDriver{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
