package cli

import (
	"fmt"
	"os"

	"github.com/koltyakov/relink/internal/auth"
)

// runToken prints a fresh random token, generated exactly the way the
// server generates its default.
func runToken() int {
	token, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintln(os.Stderr, "token command error:", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
