package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate text from a prompt",
	Long: `Generate text from a prompt.

Examples:
  gantry generate --model chat-small "Summarize the attached report"
  gantry generate --model vision-large --file ./diagram.png "What does this show?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		model, _ := cmd.Flags().GetString("model")
		file, _ := cmd.Flags().GetString("file")
		fileURL, _ := cmd.Flags().GetString("url")

		if model == "" {
			return fmt.Errorf("--model is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/generate"
		req := map[string]any{
			"model":  model,
			"prompt": prompt,
		}
		if file != "" || fileURL != "" {
			path = "/v1/generate/multimodal"
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading file: %w", err)
				}
				req["file_name"] = filepath.Base(file)
				req["data"] = base64.StdEncoding.EncodeToString(data)
			}
			if fileURL != "" {
				req["url"] = fileURL
			}
		}

		resp, err := client.post(cmd.Context(), path, req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["output"])
		return nil
	},
}

func init() {
	generateCmd.Flags().String("model", "", "logical model id")
	generateCmd.Flags().String("file", "", "attach a local file (image, video, audio or document)")
	generateCmd.Flags().String("url", "", "attach a file by URL instead of uploading")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Chat with a model, optionally inside a stored conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		model, _ := cmd.Flags().GetString("model")
		convID, _ := cmd.Flags().GetString("conversation")
		startNew, _ := cmd.Flags().GetBool("new")

		if model == "" {
			return fmt.Errorf("--model is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if startNew {
			title := prompt
			if len(title) > 60 {
				title = title[:60]
			}
			resp, err := client.post(cmd.Context(), "/v1/conversations", map[string]string{"title": title})
			if err != nil {
				return err
			}
			var created map[string]string
			if err := decodeJSON(resp, &created); err != nil {
				return err
			}
			convID = created["id"]
			printStep("Started conversation %s", convID)
		}

		req := map[string]string{
			"model":           model,
			"prompt":          prompt,
			"conversation_id": convID,
		}
		resp, err := client.post(cmd.Context(), "/v1/chat", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["output"])
		return nil
	},
}

func init() {
	chatCmd.Flags().String("model", "", "logical model id")
	chatCmd.Flags().String("conversation", "", "conversation id to continue")
	chatCmd.Flags().Bool("new", false, "start a new stored conversation")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available to the caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var result struct {
			Models []struct {
				ID            string `json:"id"`
				Provider      string `json:"provider"`
				Chat          bool   `json:"chat"`
				Multimodal    bool   `json:"multimodal"`
				Embedding     bool   `json:"embedding"`
				ContextLength int    `json:"context_length"`
			} `json:"models"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Models) == 0 {
			fmt.Println("No models available.")
			return nil
		}

		for _, m := range result.Models {
			var caps []string
			if m.Chat {
				caps = append(caps, "chat")
			}
			if m.Multimodal {
				caps = append(caps, "multimodal")
			}
			if m.Embedding {
				caps = append(caps, "embedding")
			}
			line := fmt.Sprintf("%s  %s  [%s]",
				colorize(colorBold, m.ID), m.Provider, strings.Join(caps, ","))
			if m.ContextLength > 0 {
				line += fmt.Sprintf("  ctx=%d", m.ContextLength)
			}
			fmt.Println(line)
		}
		return nil
	},
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the caller's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/conversations?limit=%d", limit))
		if err != nil {
			return err
		}

		var convs []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &convs); err != nil {
			return err
		}

		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convs {
			title := c.Title
			if len(title) > 80 {
				title = title[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, c.ID[:8]), c.CreatedAt, title)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single conversation with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/conversations/"+args[0])
		if err != nil {
			return err
		}

		var conv any
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	},
}

func init() {
	conversationsListCmd.Flags().Int("limit", 20, "maximum number of conversations to list")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
}

// --- engines ---

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Manage query engines",
}

var enginesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a query engine",
	Long: `Create a query engine.

Examples:
  gantry engines create product-docs --embedding-model embed-small
  gantry engines create film-index --backend matching --embedding-model embed-large --public`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		embeddingModel, _ := cmd.Flags().GetString("embedding-model")
		public, _ := cmd.Flags().GetBool("public")
		groupsStr, _ := cmd.Flags().GetString("groups")

		if embeddingModel == "" {
			return fmt.Errorf("--embedding-model is required")
		}

		req := map[string]any{
			"name":            args[0],
			"backend":         backend,
			"embedding_model": embeddingModel,
			"public":          public,
		}
		if groupsStr != "" {
			groups := strings.Split(groupsStr, ",")
			for i := range groups {
				groups[i] = strings.TrimSpace(groups[i])
			}
			req["access_groups"] = groups
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/engines", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created engine %s", result["id"])
		return nil
	},
}

var enginesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List query engines",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/engines")
		if err != nil {
			return err
		}

		var engines []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			Backend        string `json:"backend"`
			EmbeddingModel string `json:"embedding_model"`
			Owner          string `json:"owner"`
		}
		if err := decodeJSON(resp, &engines); err != nil {
			return err
		}

		if len(engines) == 0 {
			fmt.Println("No engines found.")
			return nil
		}

		for _, e := range engines {
			fmt.Printf("%s  %s  %s  %s  %s\n",
				colorize(colorCyan, e.ID[:8]), e.Name, e.Backend, e.EmbeddingModel, e.Owner)
		}
		return nil
	},
}

var enginesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single query engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/engines/"+args[0])
		if err != nil {
			return err
		}

		var engine any
		if err := decodeJSON(resp, &engine); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(engine)
	},
}

var enginesUploadCmd = &cobra.Command{
	Use:   "upload <id> <file>...",
	Short: "Upload documents to an engine and queue an index build",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engineID := args[0]

		type document struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		var docs []document
		for _, file := range args[1:] {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			docs = append(docs, document{
				Name:    filepath.Base(file),
				Content: base64.StdEncoding.EncodeToString(data),
			})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %d document(s)...", len(docs))
		resp, err := client.post(cmd.Context(), "/v1/engines/"+engineID+"/documents", map[string]any{
			"documents": docs,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued build job %s", result["job_id"])
		return nil
	},
}

var enginesDeployCmd = &cobra.Command{
	Use:   "deploy <id>",
	Short: "Deploy an engine's built index for querying",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/engines/"+args[0]+"/deploy", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Engine %s deployed", args[0])
		return nil
	},
}

var enginesSearchCmd = &cobra.Command{
	Use:   "search <id> <query>",
	Short: "Semantically search an engine",
	Long: `Semantically search an engine.

Examples:
  gantry engines search 4f1c9a02 "films about space exploration"
  gantry engines search 4f1c9a02 "noir classics" --filter 'genre:ANY("noir") AND year < 1960'`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args[1:], " ")
		filter, _ := cmd.Flags().GetString("filter")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{"query": query}
		if filter != "" {
			req["filter"] = filter
		}
		resp, err := client.post(cmd.Context(), "/v1/engines/"+args[0]+"/search", req)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				ID   int64  `json:"id"`
				Text string `json:"text"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [chunk %d]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.ID)
			text := r.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			if text != "" {
				fmt.Printf("  %s\n", text)
			}
		}
		return nil
	},
}

var enginesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an engine and its index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the engine and its index. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/engines/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Engine %s deleted", args[0])
		return nil
	},
}

func init() {
	enginesCreateCmd.Flags().String("backend", "", "index backend (matching or sqlvec; default sqlvec)")
	enginesCreateCmd.Flags().String("embedding-model", "", "logical embedding model id")
	enginesCreateCmd.Flags().Bool("public", false, "make the engine visible to all callers")
	enginesCreateCmd.Flags().String("groups", "", "comma-separated access groups")
	enginesDeleteCmd.Flags().Bool("confirm", false, "confirm engine deletion")

	enginesCmd.AddCommand(enginesCreateCmd)
	enginesCmd.AddCommand(enginesListCmd)
	enginesCmd.AddCommand(enginesShowCmd)
	enginesCmd.AddCommand(enginesUploadCmd)
	enginesCmd.AddCommand(enginesDeployCmd)
	enginesCmd.AddCommand(enginesSearchCmd)
	enginesCmd.AddCommand(enginesDeleteCmd)
}
