package providers

// ZKSnarkProverProviderGnark gnark prover provider
const ZKSnarkProverProviderGnark = "gnark"

// ZKSnarkProverProvider provides a common interface to interact with zksnark provers
type ZKSnarkProverProvider interface {
	Compile(argv ...interface{}) (interface{}, error)
	ExportVerifier(verifyingKey string) (interface{}, error)
	ProverFactory(identifier string) interface{}
	Prove(circuit, provingKey []byte, witness interface{}, srs []byte) (interface{}, error)
	Setup(circuit interface{}, srs []byte) (interface{}, interface{}, error)
	Verify(proof, verifyingKey []byte, witness interface{}, srs []byte) error
	WitnessFactory(identifier string, curve string, inputs interface{}, isPublic bool) (interface{}, error)
}
