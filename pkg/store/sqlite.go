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
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

type instanceRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	ImageRef string `db:"image_ref"`
}

type attachmentRow struct {
	ID        string `db:"id"`
	MAC       string `db:"mac"`
	NetworkID string `db:"network_id"`
	CIDR      string `db:"cidr"`
	CIDRv6    string `db:"cidr_v6"`
	Gateway   string `db:"gateway"`
	GatewayV6 string `db:"gateway_v6"`
}

type addressRow struct {
	Address string `db:"address"`
	Version int    `db:"version"`
}

type groupRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

type ruleRow struct {
	ID            string `db:"id"`
	ParentGroupID string `db:"parent_group_id"`
	Protocol      string `db:"protocol"`
	CIDR          string `db:"cidr"`
	FromPort      int    `db:"from_port"`
	ToPort        int    `db:"to_port"`
}

/* SQLiteStore implements PolicyReader on a sqlite database. */
type SQLiteStore struct {
	db *sqlx.DB
}

func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening policy database %s: %w", path, err)
	}
	klog.V(2).Infof("Opened policy database %s.", path)
	return &SQLiteStore{db: db}, nil
}

/* NewWithDB wraps an existing database handle. Used by tests. */
func NewWithDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Instance(ctx context.Context, instanceID string) (*types.Instance, error) {
	var row instanceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, image_ref FROM instances WHERE id = ?`, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying instance %s: %w", instanceID, err)
	}
	return &types.Instance{ID: row.ID, Name: row.Name, ImageRef: row.ImageRef}, nil
}

func (s *SQLiteStore) NetworkInfo(ctx context.Context, instanceID string) ([]types.NetworkAttachment, error) {
	var rows []attachmentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT a.id, a.mac, n.id AS network_id,
		        n.cidr, COALESCE(n.cidr_v6, '') AS cidr_v6,
		        n.gateway, COALESCE(n.gateway_v6, '') AS gateway_v6
		   FROM network_attachments a
		   JOIN networks n ON n.id = a.network_id
		  WHERE a.instance_id = ?
		  ORDER BY a.id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments for instance %s: %w", instanceID, err)
	}

	atts := make([]types.NetworkAttachment, 0, len(rows))
	for _, row := range rows {
		var addrs []addressRow
		err := s.db.SelectContext(ctx, &addrs,
			`SELECT address, version FROM attachment_ips WHERE attachment_id = ? ORDER BY address`, row.ID)
		if err != nil {
			return nil, fmt.Errorf("querying addresses for attachment %s: %w", row.ID, err)
		}

		mapping := types.Mapping{MAC: row.MAC}
		for _, addr := range addrs {
			if addr.Version == 6 {
				mapping.IP6s = append(mapping.IP6s, addr.Address)
			} else {
				mapping.IPs = append(mapping.IPs, addr.Address)
			}
		}

		atts = append(atts, types.NetworkAttachment{
			Network: types.Network{
				ID:        row.NetworkID,
				CIDR:      row.CIDR,
				CIDRv6:    row.CIDRv6,
				Gateway:   row.Gateway,
				GatewayV6: row.GatewayV6,
			},
			Mapping: mapping,
		})
	}
	return atts, nil
}

func (s *SQLiteStore) SecurityGroupsForInstance(ctx context.Context, instanceID string) ([]types.SecurityGroup, error) {
	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT g.id, g.name
		   FROM security_groups g
		   JOIN security_group_instances gi ON gi.group_id = g.id
		  WHERE gi.instance_id = ?
		  ORDER BY g.id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying groups for instance %s: %w", instanceID, err)
	}

	groups := make([]types.SecurityGroup, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, types.SecurityGroup{ID: row.ID, Name: row.Name})
	}
	return groups, nil
}

/* RulesForGroup returns a group's rules in stored order. */
func (s *SQLiteStore) RulesForGroup(ctx context.Context, groupID string) ([]types.SecurityGroupRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, parent_group_id, protocol, COALESCE(cidr, '') AS cidr, from_port, to_port
		   FROM security_group_rules
		  WHERE parent_group_id = ?
		  ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying rules for group %s: %w", groupID, err)
	}

	rules := make([]types.SecurityGroupRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, types.SecurityGroupRule{
			ID:            row.ID,
			ParentGroupID: row.ParentGroupID,
			Protocol:      row.Protocol,
			CIDR:          row.CIDR,
			FromPort:      row.FromPort,
			ToPort:        row.ToPort,
		})
	}
	return rules, nil
}

/* InstancesForGroup returns the IDs of instances that are members of a
 * group. Used by group-wide refreshes.
 */
func (s *SQLiteStore) InstancesForGroup(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT instance_id FROM security_group_instances WHERE group_id = ? ORDER BY instance_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying members of group %s: %w", groupID, err)
	}
	return ids, nil
}
