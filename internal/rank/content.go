package rank

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// Results is the outcome of a rank run over several keywords. It renders in
// every output format the CLI supports.
type Results []*Result

var header = []string{"Keyword", "Product", "Ad rank", "Ad page", "Organic rank", "Organic page", "Ads", "Organic", "Pages"}

func (rs Results) rows() [][]string {
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []string{
			r.Keyword,
			r.ProductID,
			rankString(r.AdRank),
			pageString(r.AdPageInfo),
			rankString(r.OrganicRank),
			pageString(r.OrganicPageInfo),
			strconv.Itoa(r.TotalAdCount),
			strconv.Itoa(r.TotalOrganicCount),
			strconv.Itoa(r.SearchedPages),
		})
	}
	return rows
}

func rankString(rank *int) string {
	if rank == nil {
		return "-"
	}
	return strconv.Itoa(*rank)
}

func pageString(info *PageInfo) string {
	if info == nil {
		return "-"
	}
	return fmt.Sprintf("p%d #%d", info.Page, info.Position)
}

func (rs Results) ToHTML() (string, error) {
	var sb strings.Builder
	sb.WriteString("<table>\n<thead><tr>")
	for _, h := range header {
		sb.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	sb.WriteString("</tr></thead>\n<tbody>\n")
	for _, row := range rs.rows() {
		sb.WriteString("<tr>")
		for _, cell := range row {
			sb.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</tbody>\n</table>\n")
	return sb.String(), nil
}

func (rs Results) ToMarkdown() (string, error) {
	table, err := rs.ToHTML()
	if err != nil {
		return "", err
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	markdown, err := converter.ConvertString(table)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return markdown, nil
}

func (rs Results) ToText() (string, error) {
	var sb strings.Builder
	for _, r := range rs {
		sb.WriteString(fmt.Sprintf("%s (product %s, %s)\n", r.Keyword, r.ProductID, r.DeviceType))
		sb.WriteString(fmt.Sprintf("  ad:      %s (%s) of %d\n", rankString(r.AdRank), pageString(r.AdPageInfo), r.TotalAdCount))
		sb.WriteString(fmt.Sprintf("  organic: %s (%s) of %d\n", rankString(r.OrganicRank), pageString(r.OrganicPageInfo), r.TotalOrganicCount))
		sb.WriteString(fmt.Sprintf("  pages searched: %d\n\n", r.SearchedPages))
	}
	return sb.String(), nil
}

func (rs Results) ToJSON() ([]byte, error) {
	return json.MarshalIndent(rs, "", "  ")
}

func (rs Results) ToCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, row := range rs.rows() {
		_ = w.Write(row)
	}
	w.Flush()
	return buf.String(), w.Error()
}
