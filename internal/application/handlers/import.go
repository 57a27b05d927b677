package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
	"github.com/ersonp/narra-core/internal/infrastructure/parsers"
)

// ImportHandler handles loading world documents from files.
type ImportHandler struct {
	service *services.ImportService
}

// NewImportHandler creates a new import handler.
func NewImportHandler(service *services.ImportService) *ImportHandler {
	return &ImportHandler{
		service: service,
	}
}

// ImportOptions controls import behavior.
type ImportOptions struct {
	Format     string                    // "yaml", "json", "csv", or "auto"
	DryRun     bool                      // Validate without saving
	OnConflict services.ConflictStrategy // How to handle existing entities
	Embed      bool                      // Embed items that arrive without vectors
}

// Handle loads a world document from a file.
func (h *ImportHandler) Handle(ctx context.Context, filePath string, opts ImportOptions) (*services.ImportResult, error) {
	var parser parsers.Parser
	if opts.Format == "" || opts.Format == "auto" {
		parser = parsers.ForFile(filePath)
	} else {
		parser = parsers.ForFormat(opts.Format)
	}

	if parser == nil {
		return nil, fmt.Errorf("unsupported format for file: %s", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	doc, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parsing file: %w", err)
	}

	if doc.Len() == 0 {
		return &services.ImportResult{}, nil
	}

	logging.From(ctx).Debug("importing world document",
		"file", filePath, "items", doc.Len(), "dry_run", opts.DryRun, "embed", opts.Embed)
	return h.service.Import(ctx, doc, services.ImportOptions{
		DryRun:     opts.DryRun,
		OnConflict: opts.OnConflict,
		Embed:      opts.Embed,
	})
}
