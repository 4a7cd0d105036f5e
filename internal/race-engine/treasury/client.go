// Package treasury fala com o serviço de tesouraria que custodia os fundos
// on-chain. A verificação de depósito é obrigatória na aposta; a
// transferência de prêmio é best-effort (o saldo interno já foi creditado
// na liquidação).
package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTransactionInvalid indica que a assinatura não corresponde a um
// depósito válido pro valor/carteira informados.
var ErrTransactionInvalid = errors.New("treasury: transaction invalid")

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// VerifyRequest representa o payload de verificação de depósito.
type VerifyRequest struct {
	TxSignature    string `json:"tx_signature"`
	BettorWallet   string `json:"bettor_wallet"`
	AmountLamports int64  `json:"amount_lamports"`
}

// VerifyResponse representa a resposta da verificação.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransferRequest representa o payload de pagamento de prêmio.
type TransferRequest struct {
	RecipientWallet string `json:"recipient_wallet"`
	AmountLamports  int64  `json:"amount_lamports"`
	Reference       string `json:"reference"`
}

// TransferResponse representa a resposta da transferência.
type TransferResponse struct {
	TxSignature string `json:"tx_signature"`
}

// VerifyTransaction confirma que a assinatura corresponde a um depósito do
// apostador pro valor apostado. ErrTransactionInvalid quando o serviço
// responde mas recusa a prova.
func (c *Client) VerifyTransaction(ctx context.Context, txSignature, bettorWallet string, amountLamports int64) error {
	body, _ := json.Marshal(VerifyRequest{
		TxSignature:    txSignature,
		BettorWallet:   bettorWallet,
		AmountLamports: amountLamports,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/treasury/verify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("treasury verify http %d", res.StatusCode)
	}
	var out VerifyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return err
	}
	if !out.Valid {
		return fmt.Errorf("%w: %s", ErrTransactionInvalid, out.Reason)
	}
	return nil
}

// Transfer paga um prêmio e devolve a assinatura da transação on-chain.
func (c *Client) Transfer(ctx context.Context, recipientWallet string, amountLamports int64, reference string) (string, error) {
	body, _ := json.Marshal(TransferRequest{
		RecipientWallet: recipientWallet,
		AmountLamports:  amountLamports,
		Reference:       reference,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/treasury/transfer", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("treasury transfer http %d", res.StatusCode)
	}
	var out TransferResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TxSignature, nil
}
