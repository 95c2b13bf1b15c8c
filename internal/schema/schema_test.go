package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTree() *cobra.Command {
	root := &cobra.Command{Use: "dexroute"}
	root.PersistentFlags().String("chain", "", "starting chain")
	buy := &cobra.Command{Use: "buy <token>", Short: "buy a token"}
	buy.Flags().String("amount", "", "native amount to spend")
	_ = buy.MarkFlagRequired("amount")
	info := &cobra.Command{Use: "info <token>", Short: "token snapshot"}
	root.AddCommand(buy)
	root.AddCommand(info)
	return root
}

func TestDescribeLeafCommand(t *testing.T) {
	s, err := Describe(newTree(), "buy")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if s.Path != "dexroute buy" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "amount" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if !s.Flags[0].Required {
		t.Fatalf("amount flag should be marked required")
	}
}

func TestDescribeRootIncludesGlobalFlags(t *testing.T) {
	s, err := Describe(newTree(), "")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(s.Subcommands) != 2 {
		t.Fatalf("expected 2 subcommands, got %d", len(s.Subcommands))
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Name != "chain" {
		t.Fatalf("unexpected global flags: %+v", s.GlobalFlags)
	}
}

func TestDescribeUnknownPath(t *testing.T) {
	if _, err := Describe(newTree(), "stake"); err == nil {
		t.Fatal("expected error for unknown command path")
	}
}
