package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pincersec/pincer/internal/orchestrator"
	"github.com/pincersec/pincer/internal/permission"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <tool> <method> [json-args]",
	Short: "Run a single tool method and print the result",
	Long: `Invoke one method on a catalog tool, starting its sandbox on demand
and stopping it afterwards. Arguments are passed as a JSON object.

The permission prompt is auto-approved: the caller is the operator.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Minute, "Overall deadline for the call")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	toolName, method := args[0], args[1]
	toolArgs := map[string]any{}
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			return fmt.Errorf("invalid json arguments: %w", err)
		}
	}

	state, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}
	defer state.Teardown()

	state.Permissions.SetDecisionHook(func(permission.Request) permission.Decision {
		return permission.DecisionAllow
	})

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result, err := state.Sandboxes.CallToolByName(ctx, toolName, method, toolArgs)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}
