// Command smoke drives a full disbursement flow against a running API started
// with development signatures enabled.
package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disbursa.org/internal/obs"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func main() {
	log := obs.Configure(os.Stderr, "info", "console", "smoke")

	base := os.Getenv("DISBURSA_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	admin := randomWallet()

	var tok struct {
		Token string `json:"token"`
	}
	must(log, "token", c.call(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"handle": admin, "message": "smoke sign-in", "signature": "0xsmoke",
	}, &tok))
	c.token = tok.Token

	var o struct {
		ID string `json:"id"`
	}
	must(log, "create org", c.call(ctx, http.MethodPost, "/v1/orgs", map[string]any{"name": "Smoke Co"}, &o))
	orgPath := "/v1/orgs/" + o.ID

	must(log, "link safe", c.call(ctx, http.MethodPut, orgPath+"/safe", map[string]any{
		"address": randomWallet(), "chain_id": 8453,
	}, nil))

	var bens struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	must(log, "create beneficiaries", c.call(ctx, http.MethodPost, orgPath+"/beneficiaries/bulk", map[string]any{
		"beneficiaries": []map[string]any{
			{"name": "Smoke Vendor", "type": "business", "address": randomWallet()},
			{"name": "Smoke Contractor", "type": "individual", "address": randomWallet()},
		},
	}, &bens))
	if len(bens.Items) != 2 {
		log.Fatal().Int("count", len(bens.Items)).Msg("unexpected beneficiary count")
	}

	amounts := []string{"1250.10", "99.95"}
	var batch struct {
		ID     string `json:"id"`
		Amount string `json:"amount"`
		Status string `json:"status"`
	}
	must(log, "create batch", c.call(ctx, http.MethodPost, orgPath+"/disbursements/batch", map[string]any{
		"token": "USDC",
		"recipients": []map[string]any{
			{"beneficiary_id": bens.Items[0].ID, "amount": amounts[0]},
			{"beneficiary_id": bens.Items[1].ID, "amount": amounts[1]},
		},
	}, &batch))

	want := decimal.RequireFromString(amounts[0]).Add(decimal.RequireFromString(amounts[1]))
	got, err := decimal.NewFromString(batch.Amount)
	if err != nil || !got.Equal(want) {
		log.Fatal().Str("got", batch.Amount).Str("want", want.String()).Msg("batch total mismatch")
	}

	for _, status := range []string{"pending", "proposed", "executed"} {
		must(log, "status "+status, c.call(ctx, http.MethodPost, orgPath+"/disbursements/"+batch.ID+"/status", map[string]any{
			"status": status, "safe_tx_hash": "0x" + hex.EncodeToString([]byte("smoke")),
		}, nil))
	}

	var page struct {
		Items []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"items"`
	}
	must(log, "list", c.call(ctx, http.MethodGet, orgPath+"/disbursements?status=executed", nil, &page))
	if len(page.Items) != 1 || page.Items[0].ID != batch.ID {
		log.Fatal().Interface("items", page.Items).Msg("executed batch missing from listing")
	}

	var trail struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
	}
	must(log, "audit", c.call(ctx, http.MethodGet, orgPath+"/audit?object_id="+batch.ID, nil, &trail))
	if len(trail.Entries) != 4 {
		log.Fatal().Int("entries", len(trail.Entries)).Msg("unexpected audit trail length")
	}

	log.Info().Str("org", o.ID).Str("disbursement", batch.ID).Str("total", batch.Amount).Msg("smoke test passed")
}

func (c *client) call(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func must(log zerolog.Logger, step string, err error) {
	if err != nil {
		log.Fatal().Err(err).Str("step", step).Msg("smoke step failed")
	}
}

func randomWallet() string {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	return "0x" + hex.EncodeToString(b)
}
