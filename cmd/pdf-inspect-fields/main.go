package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/pdfform"
)

var (
	outputFormat = flag.String("format", "text", "Output format: text, json")
	help         = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *help {
		printHelp()
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: PDF template path required\n\n")
		printUsage()
		os.Exit(1)
	}

	pdfPath := flag.Arg(0)
	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", pdfPath)
		os.Exit(1)
	}

	result, err := inspectTemplate(pdfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error inspecting template: %v\n", err)
		os.Exit(1)
	}

	if err := outputResults(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error outputting results: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("PDF Inspect Fields - List the fillable form fields of a PDF template")
	fmt.Println()
	fmt.Println("Use this to discover the field identifiers a mapping file can target")
	fmt.Println("before running pdf-bulk-filler against a spreadsheet.")
	fmt.Println()
	printUsage()
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -format    Output format: text (default), json")
	fmt.Println("  -help      Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  pdf-inspect-fields form.pdf")
	fmt.Println("  pdf-inspect-fields -format json form.pdf")
}

func printUsage() {
	fmt.Println("USAGE:")
	fmt.Println("  pdf-inspect-fields [OPTIONS] <pdf_file>")
}

// InspectionResult is the complete field catalog of one template
type InspectionResult struct {
	FilePath   string                    `json:"file_path"`
	FieldCount int                       `json:"field_count"`
	Fields     []pdfform.FieldDescriptor `json:"fields"`
}

func inspectTemplate(pdfPath string) (*InspectionResult, error) {
	absPath, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	codec := pdfform.NewPDFCPUCodec()
	tpl, err := codec.Open(absPath)
	if err != nil {
		return nil, err
	}

	fields := tpl.Fields()
	return &InspectionResult{
		FilePath:   absPath,
		FieldCount: len(fields),
		Fields:     fields,
	}, nil
}

func outputResults(result *InspectionResult) error {
	switch *outputFormat {
	case "json":
		return outputJSON(result)
	case "text":
		return outputText(result)
	default:
		return fmt.Errorf("unsupported output format: %s", *outputFormat)
	}
}

func outputJSON(result *InspectionResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputText(result *InspectionResult) error {
	fmt.Printf("%s: %d fillable fields\n", result.FilePath, result.FieldCount)
	fmt.Println()

	for i, field := range result.Fields {
		fmt.Printf("[%d] %s\n", i+1, field.ID)
		fmt.Printf("    Kind: %s\n", field.Kind)
		fmt.Printf("    Page: %d\n", field.Page+1)
		if field.Value != "" {
			fmt.Printf("    Value: %s\n", field.Value)
		}
		if len(field.Options) > 0 {
			fmt.Printf("    Options: %v\n", field.Options)
		}
		fmt.Println()
	}

	return nil
}

func init() {
	// Custom flag usage
	flag.Usage = func() {
		printHelp()
	}
}
