package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"chat2edit/internal/logging"
	"chat2edit/internal/provider"
	"chat2edit/internal/value"
)

// fallbackAlias names values the provider has no alias for.
const fallbackAlias = "var"

// maxParallelConversions bounds concurrent file conversions in one turn.
const maxParallelConversions = 4

// Attachment is a file sent with a request, identified by a stable id.
type Attachment struct {
	ID   string
	File provider.File
}

// Ingest binds attachments into vars and returns the names they were bound
// to, in attachment order. An attachment id seen before (and still bound)
// reuses its names without converting the file again.
//
// Conversions run concurrently; names are minted sequentially afterwards so
// the result does not depend on scheduling.
func Ingest(ctx context.Context, p provider.Provider, vars *value.Context, attachments []Attachment) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "Ingest")
	defer timer.Stop()

	converted := make([][]value.Value, len(attachments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelConversions)
	for i, a := range attachments {
		if known(vars, a.ID) {
			continue
		}
		g.Go(func() error {
			vals, err := p.ConvertFileToObjects(gctx, a.File)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", a.File.Name, err)
			}
			converted[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.IngestWarn("Ingest failed: %v", err)
		return nil, err
	}

	var names []string
	for i, a := range attachments {
		if prev, ok := vars.AttachmentNames(a.ID); ok && allBound(vars, prev) {
			logging.IngestDebug("Attachment %s already bound as %v", a.ID, prev)
			names = append(names, prev...)
			continue
		}
		bound := make([]string, 0, len(converted[i]))
		for _, v := range converted[i] {
			alias, ok := p.Alias(v)
			if !ok {
				alias = fallbackAlias
			}
			name := vars.MintName(alias)
			vars.Set(name, v)
			bound = append(bound, name)
		}
		if a.ID != "" {
			vars.RememberAttachment(a.ID, bound)
		}
		logging.IngestDebug("Attachment %s (%s) bound as %v", a.ID, a.File.Name, bound)
		names = append(names, bound...)
	}
	return names, nil
}

func known(vars *value.Context, id string) bool {
	if id == "" {
		return false
	}
	names, ok := vars.AttachmentNames(id)
	return ok && allBound(vars, names)
}

func allBound(vars *value.Context, names []string) bool {
	for _, n := range names {
		if !vars.Has(n) {
			return false
		}
	}
	return true
}
