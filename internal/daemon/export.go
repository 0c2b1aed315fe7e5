package daemon

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/cardsort/sorterd/internal/model"
)

var exportHeader = []string{
	"timestamp", "name", "edition", "rarity", "cmc",
	"colors", "color_identity", "type_line", "price", "bin",
}

// scansExportHandler renders the scan log as a CSV attachment for offline
// analysis, one row per scan in arrival order.
func (s *Server) scansExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=scans.csv")

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, scan := range s.deps.Scans.All() {
		_ = cw.Write(exportRow(scan))
	}
	cw.Flush()
}

func exportRow(scan model.CardRecord) []string {
	return []string{
		scan.ScanTimestamp,
		scan.Name,
		scan.Edition,
		scan.Rarity,
		strconv.FormatFloat(scan.CMC, 'f', -1, 64),
		strings.Join(scan.Colors, "|"),
		strings.Join(scan.ColorIdentity, "|"),
		scan.TypeLine,
		strconv.FormatFloat(scan.Price, 'f', -1, 64),
		strconv.Itoa(scan.Bin),
	}
}
