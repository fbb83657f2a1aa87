package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// syncResultView is the CLI's view of a sync result body.
type syncResultView struct {
	Success             bool     `json:"success"`
	DocID               string   `json:"doc_id"`
	TransactionID       string   `json:"transaction_id"`
	SystemStatus        string   `json:"system_status"`
	AffectedStores      []string `json:"affected_stores"`
	DegradedStores      []string `json:"degraded_stores"`
	FunctionalityImpact []string `json:"functionality_impact"`
	SLAExceeded         string   `json:"sla_exceeded"`
	Err                 string   `json:"error"`
}

func printSyncResult(result syncResultView) {
	switch result.SystemStatus {
	case "healthy":
		printSuccess("Synced %s across %s", result.DocID, strings.Join(result.AffectedStores, ", "))
	case "degraded":
		printWarning("Synced %s with degradation (down: %s)", result.DocID, strings.Join(result.DegradedStores, ", "))
		for _, impact := range result.FunctionalityImpact {
			printStep("%s", impact)
		}
	default:
		printError("Sync of %s failed: %s", result.DocID, result.Err)
	}
	if result.SLAExceeded != "" {
		printWarning("%s", result.SLAExceeded)
	}
}

// --- store ---

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a document across all configured stores",
	Long: `Store a document across all configured stores.

Examples:
  quadsync store --text "API design notes" --tags notes,api
  quadsync store --file ./notes.md --id doc-notes
  quadsync store --text "follow-up" --conversation conv-42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		id, _ := cmd.Flags().GetString("id")
		tagsStr, _ := cmd.Flags().GetString("tags")
		conversation, _ := cmd.Flags().GetString("conversation")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		content := text
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
		}

		if id == "" {
			id = uuid.New().String()
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		req := map[string]any{
			"id":      id,
			"content": content,
		}
		if tags != nil {
			req["tags"] = tags
		}
		if conversation != "" {
			req["conversation_id"] = conversation
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(context.Background(), "/documents", req)
		if err != nil {
			return err
		}

		var result syncResultView
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSyncResult(result)
		if !result.Success {
			return fmt.Errorf("sync failed")
		}
		return nil
	},
}

func init() {
	storeCmd.Flags().String("text", "", "document content")
	storeCmd.Flags().String("file", "", "file path to read content from")
	storeCmd.Flags().String("id", "", "document ID (generated when omitted)")
	storeCmd.Flags().String("tags", "", "comma-separated tags")
	storeCmd.Flags().String("conversation", "", "conversation ID to link the document to")
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Retrieve a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(context.Background(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var doc struct {
			ID             string   `json:"id"`
			Content        string   `json:"content"`
			Tags           []string `json:"tags"`
			UpdatedAt      string   `json:"updated_at"`
			ConversationID string   `json:"conversation_id"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printStatus("ID", "%s", doc.ID)
		if len(doc.Tags) > 0 {
			printStatus("Tags", "%s", strings.Join(doc.Tags, ", "))
		}
		if doc.ConversationID != "" {
			printStatus("Conversation", "%s", doc.ConversationID)
		}
		printStatus("Updated", "%s", doc.UpdatedAt)
		fmt.Println(doc.Content)
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document from all configured stores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(context.Background(), "/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result syncResultView
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSyncResult(result)
		if !result.Success {
			return fmt.Errorf("delete failed")
		}
		return nil
	},
}

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Validate a document's consistency across stores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/documents/" + url.PathEscape(args[0]) + "/consistency"
		resp, err := client.get(context.Background(), path)
		if err != nil {
			return err
		}

		var report struct {
			DocID             string          `json:"doc_id"`
			PerStore          map[string]bool `json:"per_store"`
			OverallConsistent bool            `json:"overall_consistent"`
			Inconsistencies   []string        `json:"inconsistencies"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		for role, present := range report.PerStore {
			state := "missing"
			if present {
				state = "present"
			}
			printStatus(role, "%s", state)
		}
		if report.OverallConsistent {
			printSuccess("%s is consistent across all stores", report.DocID)
			return nil
		}
		for _, inc := range report.Inconsistencies {
			printError("%s", inc)
		}
		return fmt.Errorf("document %s is inconsistent", report.DocID)
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&k=%d", url.QueryEscape(query), limit)
		resp, err := client.get(context.Background(), path)
		if err != nil {
			return err
		}

		var result struct {
			Matches []struct {
				Doc *struct {
					ID      string `json:"id"`
					Content string `json:"content"`
				} `json:"document"`
				Score float32 `json:"score"`
			} `json:"matches"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Matches) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, m := range result.Matches {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), m.Score)
			if m.Doc == nil {
				continue
			}
			fmt.Printf("  ID: %s\n", m.Doc.ID)
			text := m.Doc.Content
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- related ---

var relatedCmd = &cobra.Command{
	Use:   "related <id>",
	Short: "List documents related through shared tags or conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/documents/%s/related?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(context.Background(), path)
		if err != nil {
			return err
		}

		var result struct {
			Related []string `json:"related"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Related) == 0 {
			fmt.Println("No related documents.")
			return nil
		}
		for _, id := range result.Related {
			fmt.Println(colorize(colorCyan, id))
		}
		return nil
	},
}

func init() {
	relatedCmd.Flags().Int("limit", 20, "maximum number of related documents")
}
