// Package naming derives canonical filenames from extracted invoice fields.
// It is the only place a filename is computed; every caller that needs a name
// goes through Derive so edits and extraction results can never disagree.
package naming

import (
	"strings"

	"github.com/kaiwenliu/invoiceflow/internal/model"
)

// Derive returns "<businessNumber>_<date>.pdf" with the date separators
// removed, e.g. 2024/03/15 and 2024-03-15 both become 20240315. The function
// is pure and total: malformed input yields a malformed but deterministic
// name, which the user corrects through field edits.
func Derive(d model.InvoiceData) string {
	date := strings.NewReplacer("/", "", "-", "").Replace(d.InvoiceDate)
	return d.BusinessNumber + "_" + date + ".pdf"
}
