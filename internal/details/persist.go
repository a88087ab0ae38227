package details

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/extract"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// RawPath is the blob path of a detail payload:
// subsidy_details/<pref>/<YYYYMMDD>/<unix ms>_<last 8 of item id>.<ext>.
func RawPath(prefCode, itemID string, at time.Time, pdf bool) string {
	ext := "html"
	if pdf {
		ext = "pdf"
	}
	suffix := itemID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	at = at.UTC()
	return fmt.Sprintf("subsidy_details/%s/%s/%d_%s.%s", prefCode, at.Format("20060102"), at.UnixMilli(), suffix, ext)
}

func (e *Extractor) persist(ctx context.Context, item radar.PendingItem, resp radar.FetchResponse) (Outcome, error) {
	now := e.clock.Now().UTC()
	pdf := extract.IsPDF(resp.ContentType)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/html"
	}

	uri, err := e.blobs.PutObject(ctx, RawPath(item.PrefCode, item.ID, now, pdf), contentType, resp.Body)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("store raw detail: %w", err)
	}
	id, err := e.ids.NewID()
	if err != nil {
		return OutcomeFailed, err
	}

	if pdf {
		err := e.store.UpsertSubsidyPDF(ctx, radar.SubsidyItem{
			ID:            id,
			PrefCode:      item.PrefCode,
			Title:         extract.PDFTitlePlaceholder,
			Status:        radar.StatusUnknown,
			Category:      taxonomy.Other,
			SourceURL:     item.URL,
			RawPath:       uri,
			LastCrawledAt: now,
		})
		if err != nil {
			return OutcomeFailed, err
		}
		if err := e.store.MarkItemFetched(ctx, item.ID, now); err != nil {
			return OutcomeFailed, err
		}
		return OutcomePDF, nil
	}

	record := e.Extract(item, string(resp.Body), now)
	record.ID = id
	record.RawPath = uri
	if err := e.store.UpsertSubsidy(ctx, record); err != nil {
		return OutcomeFailed, err
	}
	metrics.ObserveClassified(record.Category)
	if err := e.store.MarkItemFetched(ctx, item.ID, now); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFetched, nil
}

// Extract builds the subsidy record of an HTML page fetched at now.
func (e *Extractor) Extract(item radar.PendingItem, html string, now time.Time) radar.SubsidyItem {
	parsedTitle := e.parser.Title(html)
	title := parsedTitle
	if title == "" {
		title = extract.UntitledPlaceholder
	}
	body := e.parser.BodyText(html)
	// Dates often sit in attributes or scripts, so the raw markup is searched too.
	dates := extract.ExtractDates(html + " " + body)
	municipality := extract.ExtractMunicipality(body, region.NameOf(item.PrefCode))
	summary := extract.Summary(body)

	return radar.SubsidyItem{
		PrefCode:         item.PrefCode,
		MunicipalityName: municipality,
		Title:            title,
		Summary:          summary,
		StartDate:        dates.Start,
		EndDate:          dates.End,
		DeadlineDate:     dates.Deadline,
		Status:           extract.ComputeStatus(radar.Day(now, e.cfg.Location), dates),
		Category:         taxonomy.Classify(title, summary),
		ParseConfidence: extract.Confidence(extract.Signals{
			Title:        parsedTitle != "",
			Body:         len([]rune(strings.TrimSpace(body))) > extract.MinBodyRunes,
			Date:         dates.Found(),
			Municipality: municipality != "",
		}),
		SourceURL:     item.URL,
		LastCrawledAt: now,
	}
}
