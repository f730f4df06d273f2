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
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"k8s.io/klog/v2"
)

const (
	Uint32Size         = 4
	TruncatedHashBytes = 6 /* Used for GenerateHash */

	/* InstanceChainPrefix is the naming prefix of per-instance chains. */
	InstanceChainPrefix = "SG_INST_"
)

/* Generates a SHA256 Hash (truncated to hexadecimal) */
func GenerateHash(inputStr string) string {
	thisHash := sha256.Sum256([]byte(inputStr))
	/* Use the first TruncatedHashBytes of the hash for the hexadecimal representation */
	hexHash := hex.EncodeToString(thisHash[:TruncatedHashBytes])
	return hexHash
}

/* InstanceChainName derives the deterministic per-instance chain name from
 * an instance ID. Same ID, same name, across restarts.
 */
func InstanceChainName(instanceID string) string {
	return InstanceChainPrefix + GenerateHash(instanceID)
}

/* IsInstanceChain reports whether a chain name is one of ours. */
func IsInstanceChain(chainName string) bool {
	return strings.HasPrefix(chainName, InstanceChainPrefix)
}

/* Generate Random UINT32 */
func GenerateRandUInt32() uint32 {
	var randomUint32 uint32
	buf := make([]byte, Uint32Size)
	_, err := rand.Read(buf)
	if err != nil {
		klog.Errorf("Failed to generate random bytes for uint32: %v", err)
		return 0
	}
	randomUint32 = binary.LittleEndian.Uint32(buf)
	return randomUint32
}

/* Creates a random short ID for logging */
func GenerateRandomShortID() string {
	/* Generates a random number between 0 and 999999 */
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		klog.Warningf("Failed to generate random int for short ID, using fallback: %v", err)
		/* Fallback to a less random ID on error */
		return fmt.Sprintf("%06x", GenerateRandUInt32()%0xffffff)
	}
	return fmt.Sprintf("%06d", n) /* Format with leading zeros to have 6 digits */
}
