package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"arbitra/protocol"
)

var addressCmd = &cobra.Command{
	Use:   "address <kind> <args...>",
	Short: "Print the derived address of an account",
	Long: `Print the address the ledger derives for an account.

  arbitra address config <namespace>
  arbitra address subject <subject-id>
  arbitra address dispute <subject-id> <round>
  arbitra address escrow <subject-id> <round>
  arbitra address pool <role> <owner>
  arbitra address record <role> <subject-id> <owner> <round>`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := deriveAddress(args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func deriveAddress(kind string, args []string) (uuid.UUID, error) {
	want := map[string]int{"config": 1, "subject": 1, "dispute": 2, "escrow": 2, "pool": 2, "record": 4}
	n, ok := want[kind]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown account kind %q", kind)
	}
	if len(args) != n {
		return uuid.Nil, fmt.Errorf("%s takes %d argument(s), got %d", kind, n, len(args))
	}

	switch kind {
	case "config":
		return protocol.ConfigAddress(args[0]), nil
	case "subject":
		return protocol.SubjectAddress(args[0]), nil
	case "dispute", "escrow":
		round, err := parseRoundArg(args[1])
		if err != nil {
			return uuid.Nil, err
		}
		if kind == "dispute" {
			return protocol.DisputeAddress(args[0], round), nil
		}
		return protocol.EscrowAddress(args[0], round), nil
	case "pool":
		role, err := parseRoleArg(args[0])
		if err != nil {
			return uuid.Nil, err
		}
		return protocol.PoolAddress(role, protocol.Identity(args[1])), nil
	default:
		role, err := parseRoleArg(args[0])
		if err != nil {
			return uuid.Nil, err
		}
		round, err := parseRoundArg(args[3])
		if err != nil {
			return uuid.Nil, err
		}
		return protocol.RecordAddress(role, args[1], protocol.Identity(args[2]), round), nil
	}
}

func parseRoundArg(raw string) (uint32, error) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("round must be a positive integer, got %q", raw)
	}
	return uint32(n), nil
}

func parseRoleArg(raw string) (protocol.Role, error) {
	for _, r := range []protocol.Role{protocol.RoleDefender, protocol.RoleChallenger, protocol.RoleJuror} {
		if raw == string(r) || raw == strings.ToLower(string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}
