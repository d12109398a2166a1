package providers

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/zkp/circuits"
)

// GnarkProverIdentifierIssuance carbon credit issuance circuit
const GnarkProverIdentifierIssuance = "carbon_issuance"

// GnarkProverIdentifierTransfer confidential transfer circuit
const GnarkProverIdentifierTransfer = "confidential_transfer"

const gnarkProvingSchemeGroth16 = "groth16"

// GnarkProverProvider interacts with the go-native gnark package
type GnarkProverProvider struct {
	curveID       ecc.ID
	provingScheme string
}

// InitGnarkProverProvider initializes and configures a new GnarkProverProvider instance
func InitGnarkProverProvider(curveID *string, provingScheme *string) *GnarkProverProvider {
	scheme := gnarkProvingSchemeGroth16
	if provingScheme != nil {
		scheme = strings.ToLower(*provingScheme)
	}

	return &GnarkProverProvider{
		curveID:       common.GnarkCurveIDFactory(curveID),
		provingScheme: scheme,
	}
}

// ProverFactory returns a fresh instance of the named library circuit
func (p *GnarkProverProvider) ProverFactory(identifier string) interface{} {
	switch strings.ToLower(identifier) {
	case GnarkProverIdentifierIssuance:
		return &circuits.IssuanceCircuit{}
	case GnarkProverIdentifierTransfer:
		return &circuits.TransferCircuit{}
	}

	return nil
}

// WitnessFactory generates a witness for the given circuit identifier, curve and named inputs
func (p *GnarkProverProvider) WitnessFactory(identifier string, curve string, inputs interface{}, isPublic bool) (interface{}, error) {
	w := p.ProverFactory(identifier)
	if w == nil {
		return nil, fmt.Errorf("failed to serialize witness; %s circuit not resolved", identifier)
	}

	witmap, witmapOk := inputs.(map[string]interface{})
	if !witmapOk {
		return nil, fmt.Errorf("failed to serialize witness for %s circuit", identifier)
	}

	witval := reflect.Indirect(reflect.ValueOf(w))
	for k := range witmap {
		field := witval
		for _, f := range strings.Split(k, ".") {
			field = field.FieldByName(f)
		}
		if !field.IsValid() || !field.CanSet() {
			return nil, fmt.Errorf("failed to serialize witness; field %s does not exist on %s circuit", k, identifier)
		}
		field.Set(reflect.ValueOf(frontend.Variable(witmap[k])))
	}

	var witval2 witness.Witness
	var err error

	curveID := common.GnarkCurveIDFactory(&curve)
	if isPublic {
		witval2, err = frontend.NewWitness(w.(frontend.Circuit), curveID.ScalarField(), frontend.PublicOnly())
	} else {
		witval2, err = frontend.NewWitness(w.(frontend.Circuit), curveID.ScalarField())
	}
	if err != nil {
		common.Log.Warningf("failed to serialize witness for %s circuit; %s", identifier, err.Error())
		return nil, err
	}

	return witval2, nil
}

// Compile the circuit to a constraint system
func (p *GnarkProverProvider) Compile(argv ...interface{}) (interface{}, error) {
	if p.provingScheme != gnarkProvingSchemeGroth16 {
		return nil, fmt.Errorf("unsupported proving scheme for compile: %s", p.provingScheme)
	}

	circuit := argv[0].(frontend.Circuit)
	cs, err := frontend.Compile(p.curveID.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		common.Log.Warningf("failed to compile circuit to r1cs using gnark; %s", err.Error())
		return nil, err
	}

	return cs, nil
}

// Setup runs the groth16 setup on the given compiled constraint system;
// srs is reserved for proving schemes requiring a structured reference string
func (p *GnarkProverProvider) Setup(circuit interface{}, srs []byte) (interface{}, interface{}, error) {
	if p.provingScheme != gnarkProvingSchemeGroth16 {
		return nil, nil, fmt.Errorf("unsupported proving scheme for setup: %s", p.provingScheme)
	}

	cs := groth16.NewCS(p.curveID)
	_, err := cs.ReadFrom(bytes.NewReader(circuit.([]byte)))
	if err != nil {
		common.Log.Warningf("unable to decode R1CS; %s", err.Error())
		return nil, nil, err
	}

	return groth16.Setup(cs)
}

// Prove generates a proof for the given witness
func (p *GnarkProverProvider) Prove(circuit, provingKey []byte, witval interface{}, srs []byte) (interface{}, error) {
	if p.provingScheme != gnarkProvingSchemeGroth16 {
		return nil, fmt.Errorf("unsupported proving scheme for prove: %s", p.provingScheme)
	}

	cs := groth16.NewCS(p.curveID)
	_, err := cs.ReadFrom(bytes.NewReader(circuit))
	if err != nil {
		common.Log.Warningf("unable to decode R1CS; %s", err.Error())
		return nil, err
	}

	pk := groth16.NewProvingKey(p.curveID)
	_, err = pk.ReadFrom(bytes.NewReader(provingKey))
	if err != nil {
		return nil, fmt.Errorf("unable to decode proving key; %s", err.Error())
	}

	return groth16.Prove(cs, pk, witval.(witness.Witness))
}

// Verify the given proof against the public witness
func (p *GnarkProverProvider) Verify(proof, verifyingKey []byte, witval interface{}, srs []byte) error {
	if p.provingScheme != gnarkProvingSchemeGroth16 {
		return fmt.Errorf("unsupported proving scheme for verify: %s", p.provingScheme)
	}

	prf := groth16.NewProof(p.curveID)
	_, err := prf.ReadFrom(bytes.NewReader(proof))
	if err != nil {
		common.Log.Warningf("unable to decode proof; %s", err.Error())
		return err
	}

	vk := groth16.NewVerifyingKey(p.curveID)
	_, err = vk.ReadFrom(bytes.NewReader(verifyingKey))
	if err != nil {
		return fmt.Errorf("unable to decode verifying key; %s", err.Error())
	}

	return groth16.Verify(prf, vk, witval.(witness.Witness))
}

// ExportVerifier exports the verifier contract, if supported
func (p *GnarkProverProvider) ExportVerifier(verifyingKey string) (interface{}, error) {
	if p.provingScheme != gnarkProvingSchemeGroth16 || p.curveID != ecc.BN254 {
		return nil, fmt.Errorf("export verifier not supported for %s scheme on %s", p.provingScheme, p.curveID.String())
	}

	vk := groth16.NewVerifyingKey(p.curveID)
	_, err := vk.ReadFrom(bytes.NewReader([]byte(verifyingKey)))
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	err = vk.ExportSolidity(buf)
	if err != nil {
		common.Log.Warningf("failed to export verifier contract using gnark; %s", err.Error())
		return nil, err
	}

	return buf.Bytes(), nil
}
