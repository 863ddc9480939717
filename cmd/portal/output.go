package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/portal-pesantren/portal-sub001/pkg/account"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// idr formats numbers with Indonesian digit grouping.
var idr = message.NewPrinter(language.Indonesian)

func rupiah(v int64) string {
	return idr.Sprintf("Rp %d", v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *rootOptions) printListings(w io.Writer, items []pesantren.Pesantren) error {
	if o.jsonOutput {
		if items == nil {
			items = []pesantren.Pesantren{}
		}
		return printJSON(w, items)
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "Tidak ada pesantren yang cocok.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAMA\tLOKASI\tRATING\tBIAYA/BULAN")
	for _, p := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\n", p.ID, p.Name, p.Location, p.Rating, rupiah(p.Fees.Monthly))
	}
	return tw.Flush()
}

func (o *rootOptions) printPage(w io.Writer, page pesantren.Page) error {
	if o.jsonOutput {
		return printJSON(w, page)
	}
	if err := o.printListings(w, page.Items); err != nil {
		return err
	}
	pg := page.Pagination
	_, err := fmt.Fprintf(w, "\nHalaman %d dari %d (%d pesantren)\n", pg.Page, pg.TotalPages, pg.Total)
	return err
}

func (o *rootOptions) printPesantren(w io.Writer, p pesantren.Pesantren) error {
	if o.jsonOutput {
		return printJSON(w, p)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", p.ID)
	fmt.Fprintf(tw, "Nama\t%s\n", p.Name)
	fmt.Fprintf(tw, "Lokasi\t%s\n", p.Location)
	if p.Province != "" {
		fmt.Fprintf(tw, "Provinsi\t%s\n", p.Province)
	}
	fmt.Fprintf(tw, "Rating\t%.1f\n", p.Rating)
	fmt.Fprintf(tw, "Santri\t%s\n", idr.Sprintf("%d", p.StudentCount))
	fmt.Fprintf(tw, "Program\t%s\n", strings.Join(p.Programs, ", "))
	fmt.Fprintf(tw, "Fasilitas\t%s\n", strings.Join(p.Facilities, ", "))
	fmt.Fprintf(tw, "Biaya bulanan\t%s\n", rupiah(p.Fees.Monthly))
	fmt.Fprintf(tw, "Biaya pendaftaran\t%s\n", rupiah(p.Fees.Registration))
	if p.Description != "" {
		fmt.Fprintf(tw, "Deskripsi\t%s\n", p.Description)
	}
	return tw.Flush()
}

func (o *rootOptions) printStats(w io.Writer, s pesantren.Stats) error {
	if o.jsonOutput {
		return printJSON(w, s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Pesantren\t%s\n", idr.Sprintf("%d", s.TotalPesantren))
	fmt.Fprintf(tw, "Santri\t%s\n", idr.Sprintf("%d", s.TotalStudents))
	fmt.Fprintf(tw, "Program\t%d\n", s.TotalPrograms)
	fmt.Fprintf(tw, "Provinsi\t%d\n", s.TotalProvinces)
	fmt.Fprintf(tw, "Rating rata-rata\t%.1f\n", s.AverageRating)
	return tw.Flush()
}

func (o *rootOptions) printAbout(w io.Writer, a pesantren.About) error {
	if o.jsonOutput {
		return printJSON(w, a)
	}

	fmt.Fprintln(w, a.Title)
	if a.Subtitle != "" {
		fmt.Fprintln(w, a.Subtitle)
	}
	fmt.Fprintf(w, "\n%s\n", a.Description)
	if a.Vision != "" {
		fmt.Fprintf(w, "\nVisi: %s\n", a.Vision)
	}
	for i, m := range a.Mission {
		fmt.Fprintf(w, "Misi %d: %s\n", i+1, m)
	}
	return nil
}

func (o *rootOptions) printUser(w io.Writer, u account.User) error {
	if o.jsonOutput {
		return printJSON(w, u)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Nama\t%s\n", u.Name)
	fmt.Fprintf(tw, "Email\t%s\n", u.Email)
	if u.Phone != "" {
		fmt.Fprintf(tw, "Telepon\t%s\n", u.Phone)
	}
	fmt.Fprintf(tw, "Peran\t%s\n", u.Role)
	return tw.Flush()
}
