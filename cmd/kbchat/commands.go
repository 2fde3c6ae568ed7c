package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srhkb/kbchat/internal/api"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the knowledge base a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := api.ChatRequest{Text: strings.Join(args, " ")}
		if askCategory != "" || askSource != "" {
			req.Filters = map[string]string{}
			if askCategory != "" {
				req.Filters["category"] = askCategory
			}
			if askSource != "" {
				req.Filters["source"] = askSource
			}
		}

		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var chat api.ChatResponse
		if err := decodeJSON(resp, &chat); err != nil {
			return err
		}

		fmt.Println(chat.AIResponse)
		if chat.SearchInfo != "" {
			fmt.Println()
			printStep("%s (relevance %.3f)", chat.SearchInfo, chat.RelevanceScore)
		}
		if askShowResults {
			for i, res := range chat.SearchResults {
				fmt.Printf("\n[%d] score=%.3f", i+1, res.Score)
				if res.Category != "" {
					fmt.Printf(" category=%s", res.Category)
				}
				if res.Source != "" {
					fmt.Printf(" source=%s", res.Source)
				}
				fmt.Printf("\n%s\n", res.Content)
			}
		}
		return nil
	},
}

var (
	askCategory    string
	askSource      string
	askShowResults bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add an entry to the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ingestContent
		if ingestFile != "" {
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", ingestFile, err)
			}
			content = string(data)
		}
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("provide entry content with --content or --file")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var keywords []string
		for _, kw := range strings.Split(ingestKeywords, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}

		resp, err := client.post(cmd.Context(), "/entries", api.EntryRequest{
			Content:  content,
			Category: ingestCategory,
			Source:   ingestSource,
			Keywords: keywords,
		})
		if err != nil {
			return err
		}

		var created struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Entry stored (id %s)", created.ID)
		return nil
	},
}

var (
	ingestContent  string
	ingestFile     string
	ingestCategory string
	ingestSource   string
	ingestKeywords string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a summary of the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/summary")
		if err != nil {
			return err
		}

		var body struct {
			Summary string `json:"summary"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		fmt.Println(body.Summary)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats map[string]any
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askCategory, "category", "", "restrict retrieval to a category")
	askCmd.Flags().StringVar(&askSource, "source", "", "restrict retrieval to a source")
	askCmd.Flags().BoolVar(&askShowResults, "results", false, "print the retrieved entries")

	ingestCmd.Flags().StringVar(&ingestContent, "content", "", "entry content")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "read entry content from a file")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "entry category")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "entry source")
	ingestCmd.Flags().StringVar(&ingestKeywords, "keywords", "", "comma-separated keywords")
}
