package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	uuid "github.com/kthomas/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/gate"
	"github.com/verdantgrid/carbonledger/registry"
	"github.com/verdantgrid/carbonledger/registry/providers"
)

type stubVerifier struct {
	err error
}

func (v *stubVerifier) Verify(ctx context.Context, proof *gate.Proof, kind gate.CircuitKind) error {
	return v.err
}

type capturePublisher struct {
	mutex    sync.Mutex
	subjects []string
}

func (p *capturePublisher) Publish(subject string, payload []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturePublisher) published(subject string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, s := range p.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func ephemeralRegistry() *registry.Registry {
	curve := common.StringOrNil("bn254")
	commitmentStoreID, _ := uuid.NewV4()
	nullifierStoreID, _ := uuid.NewV4()

	return registry.NewRegistry(
		providers.InitEphemeralDenseMerkleTreeStoreProvider(commitmentStoreID, curve),
		providers.InitEphemeralSparseMerkleTreeStoreProvider(nullifierStoreID, curve),
	)
}

func testLedger(verifierErr error) (*Ledger, *registry.Registry, *capturePublisher) {
	reg := ephemeralRegistry()
	publisher := &capturePublisher{}
	l := NewLedger(InitInMemoryCreditStore(), reg, &stubVerifier{err: verifierErr}, publisher)
	return l, reg, publisher
}

func issuanceProof(commitment string) *gate.Proof {
	return &gate.Proof{
		PublicSignals: []string{"5000", "2000", "400", "1000", "100", "1700000000", "1700086400", commitment},
	}
}

func mintParams(owner, commitment string) *MintParams {
	return &MintParams{
		Owner:        owner,
		CarbonAmount: 2000,
		EnergyAmount: 5000,
		ProjectHash:  "0xproject",
		Vintage:      2025,
		Proof:        issuanceProof(commitment),
	}
}

func TestMint(t *testing.T) {
	l, reg, publisher := testLedger(nil)

	creditID, err := l.Mint(context.Background(), mintParams("alice", "100001"))
	require.NoError(t, err)
	require.NotNil(t, creditID)

	credit, err := l.FindCredit(*creditID)
	require.NoError(t, err)
	assert.Equal(t, "alice", *credit.Owner)
	assert.Equal(t, uint64(2000), credit.CarbonAmount)
	assert.Equal(t, uint64(5000), credit.EnergyAmount)
	assert.True(t, credit.Verified)
	assert.False(t, credit.Retired)
	assert.Equal(t, CreditStatusActive, *credit.Status)
	assert.NotNil(t, credit.MintedAt)

	assert.True(t, reg.IsCommitmentValid("100001"))
	assert.True(t, publisher.published(natsCreditMintedSubject))
}

func TestMintRejectsReplayedProof(t *testing.T) {
	l, _, _ := testLedger(nil)

	_, err := l.Mint(context.Background(), mintParams("alice", "100002"))
	require.NoError(t, err)

	_, err = l.Mint(context.Background(), mintParams("alice", "100002"))
	assert.ErrorIs(t, err, registry.ErrCommitmentExists)
}

func TestMintRejectsLeadingZeroReplay(t *testing.T) {
	l, reg, _ := testLedger(nil)

	_, err := l.Mint(context.Background(), mintParams("alice", "100014"))
	require.NoError(t, err)

	// "0100014" decodes to the same field element as "100014"; the canonical
	// rendering must collide in the registry rather than mint a second credit
	_, err = l.Mint(context.Background(), mintParams("alice", "0100014"))
	assert.ErrorIs(t, err, registry.ErrCommitmentExists)

	assert.False(t, reg.IsCommitmentValid("0100014"))
}

func TestMintRejectsOverlongReportingWindow(t *testing.T) {
	l, reg, _ := testLedger(nil)

	params := mintParams("alice", "100015")
	params.Proof.PublicSignals[6] = fmt.Sprintf("%d", time.Now().Add(48*time.Hour).Unix())

	_, err := l.Mint(context.Background(), params)
	assert.ErrorIs(t, err, gate.ErrProofInvalid)
	assert.False(t, reg.IsCommitmentValid("100015"))
}

func TestMintRejectsInvalidProof(t *testing.T) {
	l, reg, _ := testLedger(gate.ErrProofInvalid)

	_, err := l.Mint(context.Background(), mintParams("alice", "100003"))
	assert.ErrorIs(t, err, gate.ErrProofInvalid)
	assert.False(t, reg.IsCommitmentValid("100003"))
}

func TestMintRejectsInconsistentCarbonFactor(t *testing.T) {
	l, reg, _ := testLedger(nil)

	params := mintParams("alice", "100004")
	// carbon * denominator != energy * factor
	params.Proof.PublicSignals[1] = "2001"
	params.CarbonAmount = 2001

	_, err := l.Mint(context.Background(), params)
	assert.ErrorIs(t, err, ErrInconsistentCarbonFactor)
	assert.False(t, reg.IsCommitmentValid("100004"))
}

func TestMintRejectsForeignDenominator(t *testing.T) {
	l, _, _ := testLedger(nil)

	params := mintParams("alice", "100005")
	params.Proof.PublicSignals[3] = "10000"

	_, err := l.Mint(context.Background(), params)
	assert.ErrorIs(t, err, ErrInconsistentCarbonFactor)
}

func TestMintRejectsAmountMismatchWithSignals(t *testing.T) {
	l, _, _ := testLedger(nil)

	params := mintParams("alice", "100006")
	params.CarbonAmount = 9999

	_, err := l.Mint(context.Background(), params)
	assert.ErrorIs(t, err, ErrInconsistentCarbonFactor)
}

func TestMintRejectsMissingProof(t *testing.T) {
	l, _, _ := testLedger(nil)

	params := mintParams("alice", "100007")
	params.Proof = nil

	_, err := l.Mint(context.Background(), params)
	assert.ErrorIs(t, err, gate.ErrProofInvalid)
}

type failingCreditStore struct {
	CreditStore
	createErr error
}

func (s *failingCreditStore) CreateCredit(credit *CarbonCredit) error {
	return s.createErr
}

func TestMintEmitsOrphanedEventOnPersistFailure(t *testing.T) {
	reg := ephemeralRegistry()
	publisher := &capturePublisher{}
	credits := &failingCreditStore{
		CreditStore: InitInMemoryCreditStore(),
		createErr:   errors.New("database unavailable"),
	}
	l := NewLedger(credits, reg, &stubVerifier{}, publisher)

	_, err := l.Mint(context.Background(), mintParams("alice", "100016"))
	require.Error(t, err)

	// the note commitment is burned; the orphaned event is the audit trail
	// operators reconcile against
	assert.True(t, reg.IsCommitmentValid("100016"))
	assert.True(t, publisher.published(natsMintOrphanedSubject))
	assert.False(t, publisher.published(natsCreditMintedSubject))
}

func TestTransferPublic(t *testing.T) {
	l, _, _ := testLedger(nil)

	creditID, err := l.Mint(context.Background(), mintParams("alice", "100008"))
	require.NoError(t, err)

	err = l.TransferPublic(context.Background(), *creditID, "alice", "bob")
	require.NoError(t, err)

	credit, err := l.FindCredit(*creditID)
	require.NoError(t, err)
	assert.Equal(t, "bob", *credit.Owner)
}

func TestTransferPublicRejectsNonOwner(t *testing.T) {
	l, _, _ := testLedger(nil)

	creditID, err := l.Mint(context.Background(), mintParams("alice", "100009"))
	require.NoError(t, err)

	err = l.TransferPublic(context.Background(), *creditID, "mallory", "bob")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestRetireIsTerminal(t *testing.T) {
	l, _, publisher := testLedger(nil)

	creditID, err := l.Mint(context.Background(), mintParams("alice", "100010"))
	require.NoError(t, err)

	reason := "offsetting 2025 emissions"
	err = l.Retire(context.Background(), *creditID, "alice", &reason)
	require.NoError(t, err)

	credit, err := l.FindCredit(*creditID)
	require.NoError(t, err)
	assert.True(t, credit.Retired)
	assert.Equal(t, CreditStatusRetired, *credit.Status)
	assert.NotNil(t, credit.RetiredAt)
	assert.Equal(t, reason, *credit.RetirementReason)
	assert.True(t, publisher.published(natsCreditRetiredSubject))

	err = l.Retire(context.Background(), *creditID, "alice", nil)
	assert.ErrorIs(t, err, ErrAlreadyRetired)

	err = l.TransferPublic(context.Background(), *creditID, "alice", "bob")
	assert.ErrorIs(t, err, ErrAlreadyRetired)
}

func TestRetireRejectsNonOwner(t *testing.T) {
	l, _, _ := testLedger(nil)

	creditID, err := l.Mint(context.Background(), mintParams("alice", "100011"))
	require.NoError(t, err)

	err = l.Retire(context.Background(), *creditID, "mallory", nil)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func transferParams(nullifier, spent, newSender, receiver string) *PrivateTransferParams {
	return &PrivateTransferParams{
		NullifierHash:       nullifier,
		SenderCommitment:    spent,
		NewSenderCommitment: newSender,
		ReceiverCommitment:  receiver,
		Proof: &gate.Proof{
			PublicSignals: []string{nullifier, spent, newSender, receiver},
		},
	}
}

func TestTransferPrivate(t *testing.T) {
	l, reg, publisher := testLedger(nil)

	require.NoError(t, reg.RegisterCommitment("200001"))

	err := l.TransferPrivate(context.Background(), transferParams("300001", "200001", "200002", "200003"))
	require.NoError(t, err)

	assert.True(t, reg.IsNullifierUsed("300001"))
	assert.True(t, reg.IsCommitmentValid("200002"))
	assert.True(t, reg.IsCommitmentValid("200003"))
	assert.True(t, publisher.published(natsPrivateTransferSubject))
}

func TestTransferPrivateRejectsNullifierReuse(t *testing.T) {
	l, reg, _ := testLedger(nil)

	require.NoError(t, reg.RegisterCommitment("200004"))

	err := l.TransferPrivate(context.Background(), transferParams("300002", "200004", "200005", "200006"))
	require.NoError(t, err)

	// same nullifier, fresh output commitments
	err = l.TransferPrivate(context.Background(), transferParams("300002", "200004", "200007", "200008"))
	assert.ErrorIs(t, err, registry.ErrNullifierReused)

	assert.False(t, reg.IsCommitmentValid("200007"))
	assert.False(t, reg.IsCommitmentValid("200008"))
}

func TestTransferPrivateRejectsLeadingZeroNullifierReplay(t *testing.T) {
	l, reg, _ := testLedger(nil)

	require.NoError(t, reg.RegisterCommitment("200015"))

	err := l.TransferPrivate(context.Background(), transferParams("300005", "200015", "200016", "200017"))
	require.NoError(t, err)

	// zero-padded nullifier, fresh outputs; canonicalization makes this the
	// same nullifier as far as the set is concerned
	err = l.TransferPrivate(context.Background(), transferParams("0300005", "200015", "200018", "200019"))
	assert.ErrorIs(t, err, registry.ErrNullifierReused)

	assert.False(t, reg.IsCommitmentValid("200018"))
	assert.False(t, reg.IsCommitmentValid("200019"))
}

func TestTransferPrivateRejectsUnknownCommitment(t *testing.T) {
	l, reg, _ := testLedger(nil)

	err := l.TransferPrivate(context.Background(), transferParams("300003", "200009", "200010", "200011"))
	assert.ErrorIs(t, err, ErrUnknownCommitment)
	assert.False(t, reg.IsNullifierUsed("300003"))
}

func TestTransferPrivateRejectsInvalidProof(t *testing.T) {
	l, reg, _ := testLedger(gate.ErrProofInvalid)

	require.NoError(t, reg.RegisterCommitment("200012"))

	err := l.TransferPrivate(context.Background(), transferParams("300004", "200012", "200013", "200014"))
	assert.ErrorIs(t, err, gate.ErrProofInvalid)
	assert.False(t, reg.IsNullifierUsed("300004"))
}

func TestListCredits(t *testing.T) {
	l, _, _ := testLedger(nil)

	_, err := l.Mint(context.Background(), mintParams("alice", "100012"))
	require.NoError(t, err)
	_, err = l.Mint(context.Background(), mintParams("bob", "100013"))
	require.NoError(t, err)

	all, err := l.ListCredits(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := l.ListCredits(common.StringOrNil("alice"))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", *mine[0].Owner)
}

func TestConcurrentMintsAreIndependent(t *testing.T) {
	l, _, _ := testLedger(nil)

	count := 8
	var wg sync.WaitGroup

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Mint(context.Background(), mintParams("alice", fmt.Sprintf("40000%d", i)))
			assert.NoError(t, err)
		}(i)
	}

	wg.Wait()
}
