package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"epochsync/internal/model"
	"epochsync/internal/reconcile"
)

// Scope grants read/write access to spreadsheets.
const Scope = "https://www.googleapis.com/auth/spreadsheets"

// ErrNoCredentials is returned when the service account JSON is empty.
var ErrNoCredentials = errors.New("service account credentials are empty")

// Store persists tables in Google Sheets.
type Store struct {
	svc *gsheets.Service

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// New authenticates with a service account JSON blob.
func New(ctx context.Context, credentials []byte) (*Store, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}
	cfg, err := google.JWTConfigFromJSON(credentials, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return NewWithOptions(ctx, option.WithHTTPClient(cfg.Client(ctx)))
}

// NewWithOptions builds a store from raw client options.
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Store, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Store{svc: svc, sheetIDs: make(map[string]int64)}, nil
}

// Read returns the whole sheet with numbers unformatted.
func (s *Store) Read(ctx context.Context, ref reconcile.TableRef) (model.Table, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(ref.SpreadsheetID, quoteSheet(ref.Sheet)).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return model.Table{}, err
	}
	return model.FromGrid(resp.Values), nil
}

// DeleteRows removes store rows start..end inclusive (1-indexed).
func (s *Store) DeleteRows(ctx context.Context, ref reconcile.TableRef, start, end int) error {
	if start < 1 || end < start {
		return fmt.Errorf("invalid row range %d-%d", start, end)
	}
	sheetID, err := s.sheetID(ctx, ref)
	if err != nil {
		return err
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(start - 1),
					EndIndex:        int64(end),
					ForceSendFields: []string{"SheetId"},
				},
			},
		}},
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(ref.SpreadsheetID, req).Context(ctx).Do()
	return err
}

// Append adds rows below the last filled row.
func (s *Store) Append(ctx context.Context, ref reconcile.TableRef, rows [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Append(ref.SpreadsheetID, quoteSheet(ref.Sheet), &gsheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Overwrite clears the sheet and writes header plus rows from A1.
func (s *Store) Overwrite(ctx context.Context, ref reconcile.TableRef, table model.Table) error {
	rng := quoteSheet(ref.Sheet)
	if _, err := s.svc.Spreadsheets.Values.Clear(ref.SpreadsheetID, rng, &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	_, err := s.svc.Spreadsheets.Values.Update(ref.SpreadsheetID, rng+"!A1", &gsheets.ValueRange{Values: table.Grid()}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

func (s *Store) sheetID(ctx context.Context, ref reconcile.TableRef) (int64, error) {
	key := ref.String()
	s.mu.Lock()
	id, ok := s.sheetIDs[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	resp, err := s.svc.Spreadsheets.Get(ref.SpreadsheetID).Fields("sheets(properties(sheetId,title))").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("spreadsheet %s: %w", ref.SpreadsheetID, err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == ref.Sheet {
			s.mu.Lock()
			s.sheetIDs[key] = sh.Properties.SheetId
			s.mu.Unlock()
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in %s", ref.Sheet, ref.SpreadsheetID)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
