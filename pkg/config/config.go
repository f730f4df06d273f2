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
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

/* Config is the agent configuration, loaded from a YAML file with sane
 * defaults for anything omitted.
 */
type Config struct {
	/* UseIPv6 enables the v6 half of rule compilation and the v6 static
	 * filters. The v6 chain tree exists either way, it just stays empty.
	 */
	UseIPv6 bool `yaml:"use_ipv6"`

	/* AllowProjectNetTraffic admits all traffic originating inside each
	 * attached network's CIDR.
	 */
	AllowProjectNetTraffic bool `yaml:"allow_project_net_traffic"`

	/* VPNImageID marks instances booted from this image as VPN gateways,
	 * which selects the relaxed base filter.
	 */
	VPNImageID string `yaml:"vpn_image_id"`

	DatabasePath  string `yaml:"database_path"`
	ListenAddress string `yaml:"listen_address"`
	VirshBinary   string `yaml:"virsh_binary"`
}

func Default() *Config {
	return &Config{
		UseIPv6:                false,
		AllowProjectNetTraffic: false,
		VPNImageID:             "",
		DatabasePath:           "/var/lib/sg-nft-bridge/policy.db",
		ListenAddress:          "127.0.0.1:9445",
		VirshBinary:            "virsh",
	}
}

/* Load reads the configuration from path, overlaying the defaults. An
 * empty path returns the defaults unchanged.
 */
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		klog.V(2).Info("No configuration file given, using defaults.")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = Default().ListenAddress
	}
	if cfg.VirshBinary == "" {
		cfg.VirshBinary = Default().VirshBinary
	}

	klog.V(2).Infof("Loaded configuration from %s (use_ipv6: %v, allow_project_net_traffic: %v).", path, cfg.UseIPv6, cfg.AllowProjectNetTraffic)
	return cfg, nil
}
