package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the scoped API keys used to authenticate against the Lacuna API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner     string
		name      string
		scopes    []string
		rateLimit int
		expiresIn string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new scoped API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  lacuna key create --owner team-nlp --scopes papers:read,gaps:read
  lacuna key create --owner ci --scopes batch:execute --expires-in 720h --name "nightly batch"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, name, scopes, rateLimit, expiresIn)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner account the key belongs to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Comma-separated scopes to grant (required)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "Requests per minute allowance")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Key lifetime as a duration, e.g. 720h (default: never)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("scopes")

	return cmd
}

func runKeyCreate(owner, name string, rawScopes []string, rateLimit int, expiresIn string) error {
	scopes, err := model.ParseScopes(rawScopes)
	if err != nil {
		return fmt.Errorf("%w (valid scopes: %s)", err, strings.Join(model.ScopeSet(model.AllScopes).Strings(), ", "))
	}
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	if rateLimit <= 0 {
		rateLimit = 60
	}

	var expiresAt *time.Time
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in %q: %w", expiresIn, err)
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sec, err := service.GenerateSecret()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	cred := &model.Credential{
		OwnerID:       owner,
		Name:          name,
		Digest:        sec.Digest,
		DisplayPrefix: sec.DisplayPrefix,
		Scopes:        scopes,
		RateLimit:     rateLimit,
		IsActive:      true,
		ExpiresAt:     expiresAt,
	}
	if err := st.CreateCredential(context.Background(), cred); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", sec.Plaintext)
	fmt.Printf("  ID:     %s\n", cred.ID)
	fmt.Printf("  Owner:  %s\n", owner)
	fmt.Printf("  Scopes: %s\n", strings.Join(scopes.Strings(), ", "))
	if expiresAt != nil {
		fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner account")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(owner string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	creds, err := st.ListCredentialsByOwner(context.Background(), owner)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	type keyRow struct {
		ID     string   `json:"id"`
		Prefix string   `json:"prefix"`
		Owner  string   `json:"owner"`
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
		Active bool     `json:"active"`
	}

	rows := make([]keyRow, len(creds))
	for i, c := range creds {
		rows[i] = keyRow{
			ID:     c.ID,
			Prefix: c.DisplayPrefix,
			Owner:  c.OwnerID,
			Name:   c.Name,
			Scopes: c.Scopes.Strings(),
			Active: c.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys found. Use 'lacuna key create' to create one.")
		return nil
	}

	fmt.Printf("%-14s %-16s %-20s %-32s %-8s\n", "PREFIX", "OWNER", "NAME", "SCOPES", "ACTIVE")
	fmt.Printf("%-14s %-16s %-20s %-32s %-8s\n", "------", "-----", "----", "------", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-14s %-16s %-20s %-32s %-8s\n", k.Prefix, k.Owner, k.Name, strings.Join(k.Scopes, ","), active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key by ID or display prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key. Revocation cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(ref string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	creds, err := st.ListCredentialsByOwner(ctx, "")
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	var matched *model.Credential
	for i := range creds {
		if creds[i].ID == ref || strings.HasPrefix(creds[i].DisplayPrefix, ref) {
			matched = &creds[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found matching %q", ref)
	}

	if err := st.DeactivateCredential(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}

	fmt.Printf("Revoked API key %s (%s)\n", matched.DisplayPrefix, matched.ID)
	return nil
}
