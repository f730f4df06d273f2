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
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateHash(t *testing.T) {
	/* Test case 1: deterministic and 12 hex characters (6 bytes) */
	h1 := GenerateHash("instance-one")
	h2 := GenerateHash("instance-one")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, TruncatedHashBytes*2)

	/* Test case 2: different input, different hash */
	assert.NotEqual(t, h1, GenerateHash("instance-two"))
}

func TestInstanceChainName(t *testing.T) {
	name := InstanceChainName("inst-1")
	assert.Equal(t, InstanceChainPrefix+GenerateHash("inst-1"), name)
	assert.Len(t, name, len(InstanceChainPrefix)+TruncatedHashBytes*2)

	/* Same instance ID always derives the same chain name */
	assert.Equal(t, name, InstanceChainName("inst-1"))
}

func TestIsInstanceChain(t *testing.T) {
	assert.True(t, IsInstanceChain(InstanceChainName("inst-1")))
	assert.True(t, IsInstanceChain("SG_INST_abcdef123456"))
	assert.False(t, IsInstanceChain("SG_LOCAL"))
	assert.False(t, IsInstanceChain("SG_FALLBACK"))
	assert.False(t, IsInstanceChain("KUBE-FORWARD"))
}

func TestGenerateRandomShortID(t *testing.T) {
	id := GenerateRandomShortID()
	assert.Len(t, id, 6)
}
