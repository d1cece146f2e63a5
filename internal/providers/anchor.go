// Package providers implements the pluggable AnchorProvider and
// LightningProvider of spec §6 against real Bitcoin/Lightning stacks, plus
// no-op variants for environments without either configured.
package providers

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// RPCConfig carries the connection details for the bitcoind JSON-RPC
// backend (spec §1: "Lightning/Bitcoin RPC clients (treated as pluggable
// providers)").
type RPCConfig struct {
	Host     string
	User     string
	Pass     string
	UseTLS   bool
	Params   *chaincfg.Params
}

// BitcoinAnchorProvider implements ledger.AnchorProvider by building an
// OP_RETURN output with the checkpoint hash and broadcasting it through a
// bitcoind JSON-RPC connection.
type BitcoinAnchorProvider struct {
	client *rpcclient.Client
	params *chaincfg.Params
}

func NewBitcoinAnchorProvider(cfg RPCConfig) (*BitcoinAnchorProvider, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.UseTLS,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("providers: connect bitcoind rpc: %w", err)
	}
	params := cfg.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &BitcoinAnchorProvider{client: client, params: params}, nil
}

// buildOpReturnScript constructs a standard null-data output carrying the
// checkpoint hash, per spec §4.5 ("the checkpoint hash (32 bytes)
// optionally embedded in an external OP_RETURN transaction").
func buildOpReturnScript(dataHex string) ([]byte, error) {
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return nil, fmt.Errorf("providers: invalid_data_hex: %w", err)
	}
	return txscript.NullDataScript(data)
}

// BroadcastOpReturn builds, funds (via the node wallet), and broadcasts a
// transaction carrying the OP_RETURN output, returning the txid.
func (p *BitcoinAnchorProvider) BroadcastOpReturn(dataHex string) (string, error) {
	script, err := buildOpReturnScript(dataHex)
	if err != nil {
		return "", err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(0, script))

	funded, err := p.client.FundRawTransaction(tx, btcjson.FundRawTransactionOpts{}, nil)
	if err != nil {
		return "", fmt.Errorf("anchor_broadcast_failed: %w", err)
	}
	signed, isComplete, err := p.client.SignRawTransactionWithWallet(funded.Transaction)
	if err != nil || !isComplete {
		return "", fmt.Errorf("anchor_broadcast_failed: incomplete signature: %w", err)
	}
	txHash, err := p.client.SendRawTransaction(signed, false)
	if err != nil {
		return "", fmt.Errorf("anchor_broadcast_failed: %w", err)
	}
	return txHash.String(), nil
}

// GetConfirmations polls the node for a transaction's confirmation depth.
func (p *BitcoinAnchorProvider) GetConfirmations(txid string) (bool, int, int64, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return false, 0, 0, fmt.Errorf("providers: invalid_txid: %w", err)
	}
	detail, err := p.client.GetTransaction(hash)
	if err != nil {
		return false, 0, 0, fmt.Errorf("provider_unavailable: %w", err)
	}
	confirmations := int(detail.Confirmations)
	var blockHeight int64
	if detail.BlockHash != "" {
		blockHash, err := chainhash.NewHashFromStr(detail.BlockHash)
		if err != nil {
			return false, 0, 0, fmt.Errorf("providers: invalid_block_hash: %w", err)
		}
		header, err := p.client.GetBlockHeaderVerbose(blockHash)
		if err != nil {
			return false, 0, 0, fmt.Errorf("provider_unavailable: %w", err)
		}
		blockHeight = int64(header.Height)
	}
	return confirmations > 0, confirmations, blockHeight, nil
}

func (p *BitcoinAnchorProvider) HealthCheck() error {
	_, err := p.client.GetBlockCount()
	if err != nil {
		return fmt.Errorf("provider_unavailable: %w", err)
	}
	return nil
}

// NoopAnchorProvider is used when no anchor backend is configured; every
// checkpoint stays soft_finalized (spec §4.5).
type NoopAnchorProvider struct{}

func (NoopAnchorProvider) BroadcastOpReturn(dataHex string) (string, error) { return "", nil }
func (NoopAnchorProvider) GetConfirmations(txid string) (bool, int, int64, error) {
	return false, 0, 0, nil
}
func (NoopAnchorProvider) HealthCheck() error { return nil }

// SatsToBTC converts a satoshi amount to BTC.
func SatsToBTC(sats int64) float64 {
	return float64(sats) / btcutil.SatoshiPerBitcoin
}
