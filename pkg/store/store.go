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

/* Package store is the read path to the policy database. Every enforcement
 * call re-reads its records here, so a call always works on an immutable
 * snapshot of what was stored when it started.
 */
package store

import (
	"context"
	"errors"

	"github.com/feitnomore/sg-nft-bridge/pkg/types"
)

/* ErrNotFound is returned when a requested record does not exist. */
var ErrNotFound = errors.New("store: record not found")

/* PolicyReader resolves instances, their network attachments, and their
 * security groups. Rule order within a group is the stored order.
 */
type PolicyReader interface {
	Instance(ctx context.Context, instanceID string) (*types.Instance, error)
	NetworkInfo(ctx context.Context, instanceID string) ([]types.NetworkAttachment, error)
	SecurityGroupsForInstance(ctx context.Context, instanceID string) ([]types.SecurityGroup, error)
	RulesForGroup(ctx context.Context, groupID string) ([]types.SecurityGroupRule, error)
	InstancesForGroup(ctx context.Context, groupID string) ([]string, error)
}
