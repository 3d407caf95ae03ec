package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/pdf"
)

// pdfCmd represents the pdf command.
var pdfCmd = &cobra.Command{
	Use:   "pdf <file>",
	Short: "List or extract the page images of a scanned PDF",
	Long: `Show the embedded page images of a scanned plan PDF, or write them to a
directory with --out so a crop can be chosen in an image viewer.

Examples:
  signscan pdf plan.pdf
  signscan pdf plan.pdf --pages 1-3 --out pages/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := args[0]
		pages, _ := cmd.Flags().GetString("pages")
		outDir, _ := cmd.Flags().GetString("out")
		password, _ := cmd.Flags().GetString("password")
		opts := pdf.Options{UserPassword: password}

		if outDir != "" {
			written, err := pdf.WritePageImages(file, pages, outDir, opts)
			if err != nil {
				return err
			}
			for _, name := range written {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		count, err := pdf.PageCount(file)
		if err != nil {
			return err
		}
		images, err := pdf.ExtractPageImages(file, pages, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s: %d page(s)\n", file, count)

		nums := make([]int, 0, len(images))
		for n := range images {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		for _, n := range nums {
			for i, img := range images[n] {
				b := img.Bounds()
				_, _ = fmt.Fprintf(out, "  page %d image %d: %dx%d\n", n, i+1, b.Dx(), b.Dy())
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pdfCmd)
	pdfCmd.Flags().String("pages", "", "page range, for example 1-3,5 (default all pages)")
	pdfCmd.Flags().String("out", "", "directory to write page images to")
	pdfCmd.Flags().String("password", "", "PDF user password")
}
