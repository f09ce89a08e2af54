package payment

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const associatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

// SolanaKeySigner signs and sends transfers with an in-process key
type SolanaKeySigner struct {
	rpcClient  *rpc.Client
	privateKey solana.PrivateKey
	ataProgram solana.PublicKey
	logger     *utils.LogsManager
}

func NewSolanaKeySigner(rpcEndpoint string, privateKey solana.PrivateKey, logger *utils.LogsManager) (*SolanaKeySigner, error) {
	if len(privateKey) != 64 {
		return nil, fmt.Errorf("invalid solana private key length %d", len(privateKey))
	}

	return &SolanaKeySigner{
		rpcClient:  rpc.New(rpcEndpoint),
		privateKey: privateKey,
		ataProgram: solana.MustPublicKeyFromBase58(associatedTokenProgram),
		logger:     logger,
	}, nil
}

// PublicKey is the paying account
func (s *SolanaKeySigner) PublicKey() string {
	return s.privateKey.PublicKey().String()
}

func (s *SolanaKeySigner) Submit(ctx context.Context, recipient, amount, asset string) (string, error) {
	if err := ValidateAddress(SolanaMainnet, recipient); err != nil {
		return "", err
	}
	if err := ValidateAsset(SolanaMainnet, asset); err != nil {
		return "", err
	}
	baseUnits, err := parseBaseAmount(amount)
	if err != nil {
		return "", err
	}

	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var instructions []solana.Instruction
	if IsNativeAsset(asset) {
		instructions, err = s.nativeTransfer(recipientKey, baseUnits)
	} else {
		instructions, err = s.tokenTransfer(ctx, recipientKey, asset, baseUnits)
	}
	if err != nil {
		return "", s.executionError(err)
	}

	payer := s.privateKey.PublicKey()

	recent, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", s.executionError(fmt.Errorf("failed to get latest blockhash: %v", err))
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return "", s.executionError(fmt.Errorf("failed to create transaction: %v", err))
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return "", s.executionError(fmt.Errorf("failed to sign transaction: %v", err))
	}

	sig, err := s.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", s.executionError(fmt.Errorf("failed to send transaction: %v", err))
	}

	s.logger.Info(fmt.Sprintf("Submitted transfer of %s %s to %s: %s", amount, asset, recipient, sig), "signer")
	return sig.String(), nil
}

func (s *SolanaKeySigner) nativeTransfer(recipient solana.PublicKey, lamports uint64) ([]solana.Instruction, error) {
	return []solana.Instruction{
		system.NewTransferInstruction(lamports, s.privateKey.PublicKey(), recipient).Build(),
	}, nil
}

func (s *SolanaKeySigner) tokenTransfer(ctx context.Context, recipient solana.PublicKey, asset string, amount uint64) ([]solana.Instruction, error) {
	payer := s.privateKey.PublicKey()

	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	payerATA, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find payer ATA: %v", err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find recipient ATA: %v", err)
	}

	decimals, err := s.mintDecimals(ctx, mint)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction

	accountInfo, err := s.rpcClient.GetAccountInfo(ctx, recipientATA)
	if err != nil || accountInfo == nil || accountInfo.Value == nil {
		instructions = append(instructions, solana.NewInstruction(
			s.ataProgram,
			solana.AccountMetaSlice{
				{PublicKey: payer, IsSigner: true, IsWritable: true},
				{PublicKey: recipientATA, IsSigner: false, IsWritable: true},
				{PublicKey: recipient, IsSigner: false, IsWritable: false},
				{PublicKey: mint, IsSigner: false, IsWritable: false},
				{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
				{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
			},
			[]byte{},
		))
	}

	transfer, err := token.NewTransferCheckedInstruction(
		amount,
		decimals,
		payerATA,
		mint,
		recipientATA,
		payer,
		[]solana.PublicKey{},
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer instruction: %v", err)
	}

	return append(instructions, transfer), nil
}

func (s *SolanaKeySigner) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if d, ok := knownDecimals[mint.String()]; ok {
		return uint8(d), nil
	}

	supply, err := s.rpcClient.GetTokenSupply(ctx, mint, rpc.CommitmentFinalized)
	if err != nil || supply == nil || supply.Value == nil {
		return 0, fmt.Errorf("failed to read decimals of mint %s: %v", mint, err)
	}
	return supply.Value.Decimals, nil
}

func (s *SolanaKeySigner) executionError(err error) error {
	s.logger.Error(err.Error(), "signer")
	return NewPaymentError(CodeExecutionFailed, ErrPaymentExecutionFailed, err.Error())
}
