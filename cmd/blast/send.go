package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/blast/internal/app"
	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/email"
	"github.com/foxzi/blast/internal/history"
	"github.com/foxzi/blast/internal/progress"
)

var (
	sendServer         string
	sendAPIKey         string
	sendFrom           string
	sendPassword       string
	sendName           string
	sendProvider       string
	sendSubject        string
	sendDocFile        string
	sendTo             []string
	sendRecipientsFile string
	sendGreeting       bool
	sendLocal          bool
	sendJSON           bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a campaign",
	Long: `Send a campaign and print per-recipient progress as it arrives.

The campaign is posted to a running server, or run in-process with --local.
The sender password is read from BLAST_SENDER_PASSWORD when --password is
not given.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendServer, "server", "http://localhost:8080", "Server base URL")
	sendCmd.Flags().StringVar(&sendAPIKey, "api-key", "", "Server API key")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Sender email address (required)")
	sendCmd.Flags().StringVar(&sendPassword, "password", "", "Sender password or API key")
	sendCmd.Flags().StringVar(&sendName, "name", "", "Sender display name")
	sendCmd.Flags().StringVarP(&sendProvider, "provider", "p", "gmail", "Email provider")
	sendCmd.Flags().StringVarP(&sendSubject, "subject", "s", "", "Subject (required)")
	sendCmd.Flags().StringVarP(&sendDocFile, "doc", "d", "", "Editor.js document file (required)")
	sendCmd.Flags().StringArrayVarP(&sendTo, "to", "t", nil, `Recipient, "Name <addr>" or addr (repeatable)`)
	sendCmd.Flags().StringVar(&sendRecipientsFile, "recipients", "", "JSON file with [{name, email}, ...]")
	sendCmd.Flags().BoolVar(&sendGreeting, "greeting", false, "Prefix each message with a personal greeting")
	sendCmd.Flags().BoolVar(&sendLocal, "local", false, "Run the campaign in-process instead of posting it")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print raw progress records")
	sendCmd.MarkFlagRequired("from")
	sendCmd.MarkFlagRequired("subject")
	sendCmd.MarkFlagRequired("doc")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	doc, err := os.ReadFile(sendDocFile)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	recipients := make([]email.Recipient, 0, len(sendTo))
	for _, t := range sendTo {
		recipients = append(recipients, parseRecipient(t))
	}
	if sendRecipientsFile != "" {
		fromFile, err := readRecipients(sendRecipientsFile)
		if err != nil {
			return err
		}
		recipients = append(recipients, fromFile...)
	}
	recipients = dedupeRecipients(recipients)

	password := sendPassword
	if password == "" {
		password = os.Getenv("BLAST_SENDER_PASSWORD")
	}

	req := &campaign.Request{
		SenderEmail:    sendFrom,
		SenderPassword: password,
		SenderName:     sendName,
		Recipients:     recipients,
		Subject:        sendSubject,
		Text:           string(doc),
		EmailProvider:  sendProvider,
		UseGreeting:    sendGreeting,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	show := func(r progress.Record) { printRecord(out, r) }
	if sendJSON {
		w := progress.NewWriter(out)
		show = func(r progress.Record) { w.Write(r) }
	}

	var final progress.Record
	if sendLocal {
		final, err = sendInProcess(ctx, cfg, req, show)
	} else {
		final, err = postCampaign(ctx, http.DefaultClient, sendServer, sendAPIKey, req, show)
	}
	if err != nil {
		return err
	}

	if err := remember(cfg.History.Path, req); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to update history: %v\n", err)
	}

	if final.Failed > 0 {
		return fmt.Errorf("%d of %d recipients failed", final.Failed, final.Sent+final.Failed)
	}
	return nil
}

// sendInProcess runs the campaign with an orchestrator built from cfg.
// Logs go to stderr so stdout carries only progress.
func sendInProcess(ctx context.Context, cfg *config.Config, req *campaign.Request, fn func(progress.Record)) (progress.Record, error) {
	logger := app.NewLogger(cfg.Logging, os.Stderr)
	orchestrator, _, err := app.NewOrchestrator(cfg, logger)
	if err != nil {
		return progress.Record{}, err
	}

	var final progress.Record
	emitter := progress.EmitterFunc(func(ctx context.Context, r progress.Record) error {
		fn(r)
		if r.Status == progress.StatusComplete {
			final = r
		}
		return nil
	})

	if _, err := orchestrator.Send(ctx, req, emitter); err != nil {
		return progress.Record{}, err
	}
	if final.Status != progress.StatusComplete {
		return progress.Record{}, progress.ErrIncomplete
	}
	return final, nil
}

// postCampaign posts req to the server and passes each progress record to
// fn as it arrives. It returns the complete record.
func postCampaign(ctx context.Context, client *http.Client, server, apiKey string, req *campaign.Request, fn func(progress.Record)) (progress.Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return progress.Record{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(server, "/")+"/api/sendEmails", bytes.NewReader(body))
	if err != nil {
		return progress.Record{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return progress.Record{}, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return progress.Record{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return progress.Record{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	records, err := progress.ReadAll(resp.Body, fn)
	if err != nil {
		if errors.Is(err, progress.ErrIncomplete) && ctx.Err() != nil {
			return progress.Record{}, fmt.Errorf("interrupted: %w", ctx.Err())
		}
		return progress.Record{}, err
	}
	return records[len(records)-1], nil
}

func printRecord(w io.Writer, r progress.Record) {
	ts := time.Now().Format("15:04:05")
	switch r.Status {
	case progress.StatusSuccess:
		fmt.Fprintf(w, "%s  sent    %-40s %d/%d\n", ts, r.Email, r.Sent, r.Total)
	case progress.StatusError:
		fmt.Fprintf(w, "%s  failed  %-40s %d/%d  %s\n", ts, r.Email, r.Sent, r.Total, r.Error)
	case progress.StatusComplete:
		fmt.Fprintf(w, "\nComplete: %d sent, %d failed\n", r.Sent, r.Failed)
		for _, addr := range r.FailedEmails {
			fmt.Fprintf(w, "  failed: %s\n", addr)
		}
	}
}

// parseRecipient accepts "Name <addr>" or a bare address. Input that does
// not parse is kept as the address.
func parseRecipient(s string) email.Recipient {
	s = strings.TrimSpace(s)
	if addr, err := mail.ParseAddress(s); err == nil {
		return email.Recipient{Name: addr.Name, Email: addr.Address}
	}
	return email.Recipient{Email: s}
}

// dedupeRecipients keeps the first entry for each address. Entries without
// an address are kept so the server can reject them.
func dedupeRecipients(recipients []email.Recipient) []email.Recipient {
	seen := make(map[string]bool, len(recipients))
	out := recipients[:0]
	for _, r := range recipients {
		key := r.Key()
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, r)
	}
	return out
}

func readRecipients(path string) ([]email.Recipient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}
	var recipients []email.Recipient
	if err := json.Unmarshal(data, &recipients); err != nil {
		return nil, fmt.Errorf("invalid recipients file: %w", err)
	}
	return recipients, nil
}

// remember records the sender and subject of a finished campaign
func remember(path string, req *campaign.Request) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Add(history.FieldSender, req.SenderEmail); err != nil {
		return err
	}
	return store.Add(history.FieldSubject, req.Subject)
}
