package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nfrund/topobus/cmd/toposervice/internal/display"
	"github.com/nfrund/topobus/internal/topicmgr"
)

var (
	topicsFormat      string
	topicsModuleFlag  string
	topicsScopeFilter string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect the event type catalog",
	Long: `The topics command lists the event types known to this binary. Framework
topics (topology.*) carry the topology protocol; module topics are application
events.`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered event types",
	Long: `List the event types in the catalog.

Examples:
  toposervice topics list
  toposervice topics list --scope framework --format json
  toposervice topics list --module order`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := topicmgr.Default()

		var topics []topicmgr.Topic
		if topicsModuleFlag != "" {
			topics = manager.ListByModule(topicsModuleFlag)
		} else {
			topics = manager.List()
		}

		if topicsScopeFilter != "" {
			scope, err := parseScope(topicsScopeFilter)
			if err != nil {
				return err
			}
			filtered := topics[:0]
			for _, topic := range topics {
				if topic.Scope() == scope {
					filtered = append(filtered, topic)
				}
			}
			topics = filtered
		}

		return display.Topics(cmd.OutOrStdout(), topicsFormat, topics)
	},
}

var topicsValidateCmd = &cobra.Command{
	Use:   "validate <topic-name>",
	Short: "Validate an event type name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := topicmgr.Default().ValidateTopicName(args[0]); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "❌ Topic name validation failed: %v\n", err)
			return err
		}
		if topic, ok := topicmgr.Default().Get(args[0]); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Topic '%s' is valid and registered (%s)\n", topic.Name(), topic.Scope())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Topic name '%s' is valid\n", args[0])
		return nil
	},
}

// parseScope converts string scope to topicmgr.TopicScope
func parseScope(scopeStr string) (topicmgr.TopicScope, error) {
	switch strings.ToLower(scopeStr) {
	case "framework":
		return topicmgr.ScopeFramework, nil
	case "module":
		return topicmgr.ScopeModule, nil
	default:
		return "", fmt.Errorf("invalid scope %q, valid scopes: framework, module", scopeStr)
	}
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsValidateCmd)

	topicsListCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsListCmd.Flags().StringVarP(&topicsModuleFlag, "module", "m", "", "Filter topics by module name")
	topicsListCmd.Flags().StringVarP(&topicsScopeFilter, "scope", "s", "", "Filter topics by scope (framework, module)")
}
