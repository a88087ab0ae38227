// Package digest assembles and hands off the daily per-prefecture digest.
package digest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kizashi/subsidy-radar/internal/radar"
	"github.com/kizashi/subsidy-radar/internal/region"
	"github.com/kizashi/subsidy-radar/internal/salesmsg"
	"github.com/kizashi/subsidy-radar/internal/taxonomy"
)

// Section sizes.
const (
	TopLimit       = 5
	TypeLimit      = 3
	DeadlineLimit  = 5
	DeadlineWindow = 7
	briefTextRunes = 80
	briefHTMLRunes = 100
)

// typeSections are the per-category sections in display order.
var typeSections = []string{taxonomy.Demolition, taxonomy.VacantHouse, taxonomy.EstateClearing}

// Store is the read surface the assembler needs.
type Store interface {
	GetPriority(ctx context.Context, prefCode string) (radar.PriorityMunicipality, error)
	ListScores(ctx context.Context, prefCode, category string, limit int) ([]radar.MunicipalityScore, error)
	ListBriefs(ctx context.Context, prefCode, category string) ([]radar.MunicipalityBrief, error)
	ListDeadlineSubsidies(ctx context.Context, prefCode string, from, to time.Time, limit int) ([]radar.SubsidyItem, error)
}

// Payload is one rendered digest.
type Payload struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Assembler renders digests from the aggregated tables.
type Assembler struct {
	store  Store
	clock  radar.Clock
	appURL string
	loc    *time.Location
}

// NewAssembler constructs an Assembler. appURL is the dashboard base URL.
func NewAssembler(store Store, clock radar.Clock, appURL string, loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{store: store, clock: clock, appURL: strings.TrimRight(appURL, "/"), loc: loc}
}

// Subject returns the digest subject for a prefecture name.
func Subject(prefName string) string {
	return fmt.Sprintf("KIZASHI｜本日の動き（%s）", prefName)
}

type topRow struct {
	score radar.MunicipalityScore
	brief string
}

type typeSection struct {
	category string
	rows     []radar.MunicipalityScore
}

type content struct {
	prefCode  string
	prefName  string
	priority  *radar.PriorityMunicipality
	top       []topRow
	types     []typeSection
	deadlines []radar.SubsidyItem
}

// Build renders the digest of one prefecture.
func (a *Assembler) Build(ctx context.Context, prefCode string) (Payload, error) {
	today := radar.Day(a.clock.Now(), a.loc)
	prefName := region.NameOf(prefCode)
	c := content{prefCode: prefCode, prefName: prefName}

	priority, err := a.store.GetPriority(ctx, prefCode)
	switch {
	case err == nil:
		c.priority = &priority
	case !errors.Is(err, radar.ErrNotFound):
		return Payload{}, fmt.Errorf("load priority: %w", err)
	}

	scores, err := a.store.ListScores(ctx, prefCode, taxonomy.All, TopLimit)
	if err != nil {
		return Payload{}, fmt.Errorf("load top scores: %w", err)
	}
	briefs, err := a.store.ListBriefs(ctx, prefCode, taxonomy.All)
	if err != nil {
		return Payload{}, fmt.Errorf("load briefs: %w", err)
	}
	briefText := make(map[string]string, len(briefs))
	for _, b := range briefs {
		briefText[b.MunicipalityName] = b.BriefText
	}
	for _, s := range scores {
		c.top = append(c.top, topRow{score: s, brief: briefText[s.MunicipalityName]})
	}

	for _, category := range typeSections {
		rows, err := a.store.ListScores(ctx, prefCode, category, TypeLimit)
		if err != nil {
			return Payload{}, fmt.Errorf("load %s scores: %w", category, err)
		}
		c.types = append(c.types, typeSection{category: category, rows: rows})
	}

	c.deadlines, err = a.store.ListDeadlineSubsidies(ctx, prefCode, today, today.AddDate(0, 0, DeadlineWindow), DeadlineLimit)
	if err != nil {
		return Payload{}, fmt.Errorf("load deadlines: %w", err)
	}

	return Payload{
		Subject: Subject(prefName),
		Text:    a.renderText(c),
		HTML:    a.renderHTML(c),
	}, nil
}

// MunicipalityLink returns the dashboard link of a municipality view.
func (a *Assembler) MunicipalityLink(prefCode, municipality, category string) string {
	return fmt.Sprintf("%s/app/municipality?pref=%s&name=%s&category=%s",
		a.appURL, queryEscape(prefCode), queryEscape(municipality), category)
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func formatDate(d *time.Time) string {
	if d == nil {
		return "—"
	}
	return radar.FormatDate(d)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func (a *Assembler) renderText(c content) string {
	var lines []string
	add := func(s ...string) { lines = append(lines, s...) }

	add(Subject(c.prefName), "")
	if c.priority != nil {
		add("🔴 本日最優先：",
			fmt.Sprintf("%s（締切%d件、募集中%d件）", c.priority.MunicipalityName, c.priority.Reason.Deadline7, c.priority.Reason.Active),
			a.MunicipalityLink(c.prefCode, c.priority.MunicipalityName, taxonomy.All),
			"")
	}

	add("■ 県内TOP5（全体）")
	for _, r := range c.top {
		s := r.score
		add(fmt.Sprintf("%s 募集中%d これから%d 締切%s", s.MunicipalityName, s.ActiveCount, s.UpcomingCount, formatDate(s.NearestDeadlineDate)))
		if r.brief != "" {
			add("  " + truncate(r.brief, briefTextRunes))
		}
		add("  " + a.MunicipalityLink(c.prefCode, s.MunicipalityName, taxonomy.All))
	}

	add("", "■ タイプ別TOP3")
	for _, sec := range c.types {
		if len(sec.rows) == 0 {
			continue
		}
		add(fmt.Sprintf("【%s】", taxonomy.Label(sec.category)))
		for _, s := range sec.rows {
			add(fmt.Sprintf("  %s 締切%s %s", s.MunicipalityName, formatDate(s.NearestDeadlineDate),
				a.MunicipalityLink(c.prefCode, s.MunicipalityName, sec.category)))
		}
	}

	add("", "■ 直近締切（今日〜7日）")
	for _, item := range c.deadlines {
		add("  "+item.Title, fmt.Sprintf("    期限 %s %s", formatDate(item.EffectiveDeadline()), item.SourceURL))
	}

	add("",
		a.appURL+"/app にログイン",
		salesmsg.Disclaimer,
		"解約・停止はアプリ内で即時反映されます。")
	return strings.Join(lines, "\n")
}

func (a *Assembler) renderHTML(c content) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body>`)
	fmt.Fprintf(&b, "<h2>%s</h2>", escapeHTML(Subject(c.prefName)))
	if c.priority != nil {
		b.WriteString("<p><strong>🔴 本日最優先：</strong><br>")
		fmt.Fprintf(&b, `%s（締切%d件、募集中%d件）<br><a href="%s">詳細</a></p>`,
			escapeHTML(c.priority.MunicipalityName), c.priority.Reason.Deadline7, c.priority.Reason.Active,
			escapeHTML(a.MunicipalityLink(c.prefCode, c.priority.MunicipalityName, taxonomy.All)))
	}

	b.WriteString("<h3>■ 県内TOP5（全体）</h3><ul>")
	for _, r := range c.top {
		s := r.score
		fmt.Fprintf(&b, `<li><strong>%s</strong> 募集中%d これから%d 締切%s<br><small>%s</small><br><a href="%s">詳細</a></li>`,
			escapeHTML(s.MunicipalityName), s.ActiveCount, s.UpcomingCount, formatDate(s.NearestDeadlineDate),
			escapeHTML(truncate(r.brief, briefHTMLRunes)),
			escapeHTML(a.MunicipalityLink(c.prefCode, s.MunicipalityName, taxonomy.All)))
	}

	b.WriteString("</ul><h3>■ タイプ別TOP3</h3>")
	for _, sec := range c.types {
		if len(sec.rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "<p><strong>%s</strong></p><ul>", escapeHTML(taxonomy.Label(sec.category)))
		for _, s := range sec.rows {
			fmt.Fprintf(&b, `<li>%s 締切%s <a href="%s">詳細</a></li>`,
				escapeHTML(s.MunicipalityName), formatDate(s.NearestDeadlineDate),
				escapeHTML(a.MunicipalityLink(c.prefCode, s.MunicipalityName, sec.category)))
		}
		b.WriteString("</ul>")
	}

	b.WriteString("<h3>■ 直近締切（今日〜7日）</h3><ul>")
	for _, item := range c.deadlines {
		fmt.Fprintf(&b, `<li>%s 期限%s <a href="%s">リンク</a></li>`,
			escapeHTML(item.Title), formatDate(item.EffectiveDeadline()), escapeHTML(item.SourceURL))
	}
	b.WriteString("</ul>")
	fmt.Fprintf(&b, `<p><a href="%s/app">KIZASHIにログイン</a></p>`, escapeHTML(a.appURL))
	fmt.Fprintf(&b, "<p><small>%s<br>解約・停止はアプリ内で即時反映されます。</small></p>", salesmsg.Disclaimer)
	b.WriteString("</body></html>")
	return b.String()
}
