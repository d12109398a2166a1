/*
 * Copyright 2023-2025 Verdant Grid, Inc.
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

// Command setup compiles the circuits and runs the groth16 setup, writing the
// constraint system, proving key and verification key artifacts for each. The
// verification key artifacts are what the API loads at boot.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/frontend"

	"github.com/verdantgrid/carbonledger/common"
	zkp "github.com/verdantgrid/carbonledger/zkp/providers"
)

const defaultArtifactsPath = "./ops/artifacts"

func main() {
	artifactsPath := os.Getenv("CIRCUIT_ARTIFACTS_PATH")
	if artifactsPath == "" {
		artifactsPath = defaultArtifactsPath
	}

	err := os.MkdirAll(artifactsPath, 0o755)
	if err != nil {
		common.Log.Panicf("failed to create artifacts directory %s; %s", artifactsPath, err.Error())
	}

	provider := zkp.InitGnarkProverProvider(common.StringOrNil("bn254"), nil)

	for _, identifier := range []string{
		zkp.GnarkProverIdentifierIssuance,
		zkp.GnarkProverIdentifierTransfer,
	} {
		err = setupCircuit(provider, identifier, artifactsPath)
		if err != nil {
			common.Log.Panicf("failed to setup %s circuit; %s", identifier, err.Error())
		}
	}
}

func setupCircuit(provider zkp.ZKSnarkProverProvider, identifier, artifactsPath string) error {
	circuit := provider.ProverFactory(identifier)
	if circuit == nil {
		return fmt.Errorf("unknown circuit: %s", identifier)
	}

	cs, err := provider.Compile(circuit.(frontend.Circuit))
	if err != nil {
		return err
	}

	csRaw, err := serialize(cs)
	if err != nil {
		return err
	}

	pk, vk, err := provider.Setup(csRaw, nil)
	if err != nil {
		return err
	}

	pkRaw, err := serialize(pk)
	if err != nil {
		return err
	}

	vkRaw, err := serialize(vk)
	if err != nil {
		return err
	}

	for suffix, raw := range map[string][]byte{
		"r1cs": csRaw,
		"pk":   pkRaw,
		"vk":   vkRaw,
	} {
		path := filepath.Join(artifactsPath, fmt.Sprintf("%s.%s", identifier, suffix))
		err = os.WriteFile(path, raw, 0o644)
		if err != nil {
			return err
		}
		common.Log.Infof("wrote %d-byte %s artifact: %s", len(raw), suffix, path)
	}

	return nil
}

func serialize(artifact interface{}) ([]byte, error) {
	writerTo, writerOk := artifact.(io.WriterTo)
	if !writerOk {
		return nil, fmt.Errorf("artifact %T is not serializable", artifact)
	}

	buf := new(bytes.Buffer)
	_, err := writerTo.WriteTo(buf)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
