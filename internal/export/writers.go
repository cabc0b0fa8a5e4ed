package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Contacts"

func writeJSON(w io.Writer, _ []string, batches *Batches, onBatch func()) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}
	first := true
	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		for _, r := range batch {
			b, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			if !first {
				bw.WriteString(",")
			}
			first = false
			bw.WriteString("\n  ")
			bw.Write(b)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		onBatch()
	}
	if !first {
		bw.WriteString("\n")
	}
	bw.WriteString("]\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, columns []string, batches *Batches, onBatch func()) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		for _, r := range batch {
			if err := cw.Write(row(r, columns)); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
		onBatch()
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, columns []string, batches *Batches, onBatch func()) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("new stream writer: %w", err)
	}
	if len(columns) > 0 {
		if err := sw.SetColWidth(1, len(columns), 20); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	rowIdx := 2
	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		for _, r := range batch {
			cell, err := excelize.CoordinatesToCellName(1, rowIdx)
			if err != nil {
				return err
			}
			values := row(r, columns)
			cells := make([]interface{}, len(values))
			for i, v := range values {
				cells[i] = v
			}
			if err := sw.SetRow(cell, cells); err != nil {
				return fmt.Errorf("write xlsx row %d: %w", rowIdx, err)
			}
			rowIdx++
		}
		onBatch()
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush xlsx: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
