package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var (
	journalHeader = []string{"id", "created_at", "kind", "project_id", "from", "to", "amount", "evidence_ref"}
	balanceHeader = []string{"holder", "project_id", "amount", "updated_at"}
)

// ExportXLSX writes the journal (optionally for one project) and current
// balances to an audit workbook at path. It returns the number of journal
// rows written.
func (l *Ledger) ExportXLSX(ctx context.Context, path, projectID string) (int, error) {
	entries, err := l.Entries(ctx, projectID)
	if err != nil {
		return 0, err
	}
	balances, err := l.Balances(ctx)
	if err != nil {
		return 0, err
	}

	f := xlsx.NewFile()
	journal, err := f.AddSheet("Journal")
	if err != nil {
		return 0, eris.Wrap(err, "ledger: add journal sheet")
	}
	addRow(journal, journalHeader)
	for _, e := range entries {
		addRow(journal, []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			string(e.Kind),
			e.ProjectID,
			e.From,
			e.To,
			strconv.FormatInt(e.Amount, 10),
			e.EvidenceRef,
		})
	}

	sheet, err := f.AddSheet("Balances")
	if err != nil {
		return 0, eris.Wrap(err, "ledger: add balances sheet")
	}
	addRow(sheet, balanceHeader)
	for _, b := range balances {
		if projectID != "" && b.ProjectID != projectID {
			continue
		}
		addRow(sheet, []string{b.Holder, b.ProjectID, strconv.FormatInt(b.Amount, 10), b.UpdatedAt.Format(time.RFC3339)})
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "ledger: save workbook %s", path)
	}
	return len(entries), nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
