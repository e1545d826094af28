package ethdo

import (
	"fmt"
	"strings"
)

type AccountInfo struct {
	Name      string
	PublicKey string
}

type DepositDataParams struct {
	ValidatorAccount  string
	Passphrase        string
	WithdrawalAccount string
	// e.g. "32Ether"
	DepositValue string
}

func parseLines(out string) []string {
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseVerboseAccounts reads the output of `wallet accounts --verbose`:
//
//	1
//	  UUID:           8f2d...
//	  Public key:     0xa1b2...
//
// Account names start at the beginning of the line, details are indented.
func parseVerboseAccounts(out string) ([]AccountInfo, error) {
	accounts := []AccountInfo{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			accounts = append(accounts, AccountInfo{Name: strings.TrimSpace(line)})
			continue
		}

		key, value, found := strings.Cut(strings.TrimSpace(line), ":")
		if !found || !strings.EqualFold(key, "public key") {
			continue
		}
		if len(accounts) == 0 {
			return nil, fmt.Errorf("public key line before any account: %q", line)
		}
		accounts[len(accounts)-1].PublicKey = strings.TrimSpace(value)
	}
	return accounts, nil
}
