package export

import (
	"fmt"

	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the XLSX export.
const (
	DataSheet     = "Data"
	MetadataSheet = "Metadata"
)

func (e *Exporter) renderXLSX(rows []Row) (data []byte, err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), DataSheet); err != nil {
		return nil, fmt.Errorf("rename data sheet: %w", err)
	}
	if _, err := f.NewSheet(MetadataSheet); err != nil {
		return nil, fmt.Errorf("create metadata sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := e.writeDataSheet(f, rows, bold); err != nil {
		return nil, err
	}
	if err := e.writeMetadataSheet(f, bold); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) writeDataSheet(f *excelize.File, rows []Row, headerStyle int) error {
	header := make([]any, 0, len(e.fields)+1)
	header = append(header, "timestamp")
	for _, fd := range e.fields {
		header = append(header, fd.Header)
	}
	if err := f.SetSheetRow(DataSheet, "A1", &header); err != nil {
		return fmt.Errorf("write data header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(DataSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style data header: %w", err)
	}

	for i, row := range rows {
		record := make([]any, len(header))
		record[0] = e.timestamp(row.Timestamp)
		for j, fd := range e.fields {
			// numbers become numeric cells; missing values stay blank
			if v, ok := plant.ToFloat(row.Values[fd.Key]); ok {
				record[j+1] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(DataSheet, cell, &record); err != nil {
			return fmt.Errorf("write data row %d: %w", i, err)
		}
	}

	if err := f.SetPanes(DataSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze data header: %w", err)
	}
	return nil
}

func (e *Exporter) writeMetadataSheet(f *excelize.File, headerStyle int) error {
	header := []any{"column", "key", "unit", "description"}
	if err := f.SetSheetRow(MetadataSheet, "A1", &header); err != nil {
		return fmt.Errorf("write metadata header: %w", err)
	}
	if err := f.SetCellStyle(MetadataSheet, "A1", "D1", headerStyle); err != nil {
		return fmt.Errorf("style metadata header: %w", err)
	}

	tsRow := []any{"timestamp", "timestamp", "", "Sample time in " + e.location.String() + " (" + TimestampLayout + ")"}
	if err := f.SetSheetRow(MetadataSheet, "A2", &tsRow); err != nil {
		return fmt.Errorf("write metadata row: %w", err)
	}

	for i, fd := range e.fields {
		row := []any{fd.Header, fd.Key, fd.Unit, fd.Description}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(MetadataSheet, cell, &row); err != nil {
			return fmt.Errorf("write metadata row %s: %w", fd.Key, err)
		}
	}
	return f.SetColWidth(MetadataSheet, "D", "D", 48)
}
