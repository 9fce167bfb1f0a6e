package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"livereply/internal/chat"
	"livereply/internal/classify"
	"livereply/internal/config"
	"livereply/internal/normalize"
)

var (
	classifyKind   string
	classifyAuthor string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify lines from stdin and print the reply each would get",
	Long: `Reads one chat item per line and prints rule, identity key and reply,
tab separated, or "-" when nothing matches. Rules come from --config when
the file exists, otherwise the built-in table is used.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyKind, "kind", "system", "event kind: system or chat")
	classifyCmd.Flags().StringVar(&classifyAuthor, "author", "", "author of chat lines")
}

func runClassify(cmd *cobra.Command, _ []string) error {
	if _, ok := chat.ParseKind(classifyKind); !ok {
		return fmt.Errorf("unknown kind %q", classifyKind)
	}
	cls, maxLen, err := loadClassifier(cmd)
	if err != nil {
		return err
	}
	norm := normalize.New(maxLen)

	out := cmd.OutOrStdout()
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		obs := chat.TextObservation(line, "")
		obs.KindHint = classifyKind
		obs.Author = classifyAuthor
		ev, ok := norm.Normalize(obs)
		if !ok {
			fmt.Fprintln(out, "-")
			continue
		}
		intent, ok := cls.Classify(ev)
		if !ok {
			fmt.Fprintln(out, "-")
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", intent.Rule, intent.IdentityKey, intent.ReplyText)
	}
	return sc.Err()
}

// loadClassifier uses the configured rules when a config is given or found.
func loadClassifier(cmd *cobra.Command) (*classify.Classifier, int, error) {
	path := configPath()
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		if cmd.Flags().Changed("config") {
			return nil, 0, err
		}
		return classify.MustDefault(), 0, nil
	}
	t, err := cfg.Pipeline.Resolve()
	if err != nil {
		return nil, 0, err
	}
	cls, err := classify.New(cfg.Classifier.ClassifierSettings())
	if err != nil {
		return nil, 0, err
	}
	return cls, t.MaxTextLen, nil
}
