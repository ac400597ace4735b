package pdfform

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDFCPUCodec implements Codec on top of the pdfcpu library.
type PDFCPUCodec struct{}

// NewPDFCPUCodec creates the pdfcpu-backed codec.
func NewPDFCPUCodec() *PDFCPUCodec {
	return &PDFCPUCodec{}
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open parses the template once into an immutable in-memory representation.
// Every fill re-reads the cached bytes so concurrent fills never share
// mutable parse state.
func (c *PDFCPUCodec) Open(path string) (Template, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", abs, err)
	}

	ctx, err := readContext(data)
	if err != nil {
		return nil, &TemplateCorruptError{Path: abs, Err: err}
	}

	fields, err := introspect(ctx)
	if err != nil {
		return nil, &TemplateCorruptError{Path: abs, Err: err}
	}
	if len(fields) == 0 {
		return nil, &UnfillableTemplateError{Path: abs}
	}

	return &pdfTemplate{path: abs, data: data, fields: fields}, nil
}

// Merge concatenates the inputs into output in the given order.
func (c *PDFCPUCodec) Merge(inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to merge into %s", output)
	}
	if err := api.MergeCreateFile(inputs, output, false, newConfiguration()); err != nil {
		return fmt.Errorf("failed to merge %d documents: %w", len(inputs), err)
	}
	return nil
}

func readContext(data []byte) (*model.Context, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	return ctx, nil
}

// pdfTemplate is the reusable parse result for one template file.
type pdfTemplate struct {
	path   string
	data   []byte
	fields []FieldDescriptor
}

func (t *pdfTemplate) Path() string { return t.path }

func (t *pdfTemplate) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(t.fields))
	copy(out, t.fields)
	return out
}

func (t *pdfTemplate) NewFill() (Fill, error) {
	ctx, err := readContext(t.data)
	if err != nil {
		return nil, &TemplateCorruptError{Path: t.path, Err: err}
	}
	fields, err := collectFieldDicts(ctx)
	if err != nil {
		return nil, &TemplateCorruptError{Path: t.path, Err: err}
	}
	return &pdfFill{ctx: ctx, fields: fields}, nil
}

// formField groups a field dictionary with its widget annotations.
type formField struct {
	dict types.Dict
	kids []types.Dict
}

// acroFields returns the AcroForm Fields array, or nil when absent.
func acroFields(ctx *model.Context) (types.Array, types.Dict, error) {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	acroObj, found := rootDict.Find("AcroForm")
	if !found {
		return nil, nil, nil
	}
	acroDict, err := ctx.DereferenceDict(acroObj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dereference AcroForm: %w", err)
	}
	if acroDict == nil {
		return nil, nil, nil
	}

	fieldsObj, found := acroDict.Find("Fields")
	if !found {
		return nil, acroDict, nil
	}
	fieldsArr, err := ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dereference Fields array: %w", err)
	}
	return fieldsArr, acroDict, nil
}

// introspect enumerates the template's fields in document order.
func introspect(ctx *model.Context) ([]FieldDescriptor, error) {
	fieldsArr, _, err := acroFields(ctx)
	if err != nil {
		return nil, err
	}

	pages, err := annotationPages(ctx)
	if err != nil {
		return nil, err
	}

	var descriptors []FieldDescriptor
	for i, fieldRef := range fieldsArr {
		fieldDict, err := ctx.DereferenceDict(fieldRef)
		if err != nil || fieldDict == nil {
			continue
		}

		name := fieldName(ctx, fieldDict)
		if name == "" {
			name = fmt.Sprintf("field_%d", i)
		}

		kind := fieldKind(ctx, fieldDict, name)

		desc := FieldDescriptor{
			ID:   name,
			Kind: kind,
			Page: fieldPage(ctx, fieldRef, fieldDict, pages),
		}

		if kind == KindChoice {
			desc.Options = choiceOptions(ctx, fieldDict)
		}
		if valObj, found := fieldDict.Find("V"); found {
			desc.Value = fieldValue(ctx, valObj, kind)
		}

		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

// collectFieldDicts indexes field dictionaries by field id for writing.
func collectFieldDicts(ctx *model.Context) (map[string]formField, error) {
	fieldsArr, _, err := acroFields(ctx)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]formField, len(fieldsArr))
	for i, fieldRef := range fieldsArr {
		fieldDict, err := ctx.DereferenceDict(fieldRef)
		if err != nil || fieldDict == nil {
			continue
		}
		name := fieldName(ctx, fieldDict)
		if name == "" {
			name = fmt.Sprintf("field_%d", i)
		}

		ff := formField{dict: fieldDict}
		if kidsObj, found := fieldDict.Find("Kids"); found {
			if kidsArr, err := ctx.DereferenceArray(kidsObj); err == nil {
				for _, kidRef := range kidsArr {
					if kidDict, err := ctx.DereferenceDict(kidRef); err == nil && kidDict != nil {
						ff.kids = append(ff.kids, kidDict)
					}
				}
			}
		}
		fields[name] = ff
	}
	return fields, nil
}

func fieldName(ctx *model.Context, fieldDict types.Dict) string {
	nameObj, found := fieldDict.Find("T")
	if !found {
		return ""
	}
	name, err := ctx.DereferenceStringOrHexLiteral(nameObj, model.V10, nil)
	if err != nil {
		return ""
	}
	return name
}

// fieldKind derives the field kind from the FT entry, button flags, and,
// for text fields, a date hint in the field or alternate name.
func fieldKind(ctx *model.Context, fieldDict types.Dict, name string) FieldKind {
	ft := fieldType(ctx, fieldDict)
	switch ft {
	case "Btn":
		return KindCheckbox
	case "Ch":
		return KindChoice
	default:
		if isDateField(ctx, fieldDict, name) {
			return KindDate
		}
		return KindText
	}
}

func fieldType(ctx *model.Context, fieldDict types.Dict) string {
	ftObj, found := fieldDict.Find("FT")
	if !found {
		// FT may be inherited from the parent field.
		if parentObj, found := fieldDict.Find("Parent"); found {
			if parentDict, err := ctx.DereferenceDict(parentObj); err == nil && parentDict != nil {
				return fieldType(ctx, parentDict)
			}
		}
		return ""
	}
	ftName, err := ctx.DereferenceName(ftObj, model.V10, nil)
	if err != nil {
		return ""
	}
	return string(ftName)
}

// isDateField classifies text fields whose name or alternate name (TU)
// mentions a date. AcroForm carries no native date type; the hint is the
// best signal short of parsing format actions.
func isDateField(ctx *model.Context, fieldDict types.Dict, name string) bool {
	if strings.Contains(strings.ToLower(name), "date") {
		return true
	}
	if tuObj, found := fieldDict.Find("TU"); found {
		if tu, err := ctx.DereferenceStringOrHexLiteral(tuObj, model.V10, nil); err == nil {
			return strings.Contains(strings.ToLower(tu), "date")
		}
	}
	return false
}

// choiceOptions extracts the allowed options of a choice field. Entries may
// be plain strings or [export, display] pairs; the export value is what
// ends up in /V, so that is what the domain check uses.
func choiceOptions(ctx *model.Context, fieldDict types.Dict) []string {
	optObj, found := fieldDict.Find("Opt")
	if !found {
		return nil
	}
	optArr, err := ctx.DereferenceArray(optObj)
	if err != nil {
		return nil
	}

	var options []string
	for _, opt := range optArr {
		if str, err := ctx.DereferenceStringOrHexLiteral(opt, model.V10, nil); err == nil {
			options = append(options, str)
			continue
		}
		if arr, err := ctx.DereferenceArray(opt); err == nil && len(arr) >= 1 {
			if exportVal, err := ctx.DereferenceStringOrHexLiteral(arr[0], model.V10, nil); err == nil {
				options = append(options, exportVal)
			}
		}
	}
	return options
}

func fieldValue(ctx *model.Context, valObj types.Object, kind FieldKind) string {
	switch kind {
	case KindCheckbox:
		if name, err := ctx.DereferenceName(valObj, model.V10, nil); err == nil {
			return string(name)
		}
	default:
		if val, err := ctx.DereferenceStringOrHexLiteral(valObj, model.V10, nil); err == nil {
			return val
		}
	}
	return ""
}

// annotationPages maps annotation object numbers to 0-based page indexes by
// walking the page tree.
func annotationPages(ctx *model.Context) (map[int]int, error) {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	pages := make(map[int]int)
	pagesObj, found := rootDict.Find("Pages")
	if !found {
		return pages, nil
	}
	pagesDict, err := ctx.DereferenceDict(pagesObj)
	if err != nil || pagesDict == nil {
		return pages, nil
	}
	pageIdx := 0
	walkPageTree(ctx, pagesDict, pages, &pageIdx, 0)
	return pages, nil
}

func walkPageTree(ctx *model.Context, node types.Dict, pages map[int]int, pageIdx *int, depth int) {
	if depth > 32 {
		return
	}

	if kidsObj, found := node.Find("Kids"); found {
		if kidsArr, err := ctx.DereferenceArray(kidsObj); err == nil {
			for _, kidRef := range kidsArr {
				if kidDict, err := ctx.DereferenceDict(kidRef); err == nil && kidDict != nil {
					walkPageTree(ctx, kidDict, pages, pageIdx, depth+1)
				}
			}
		}
		return
	}

	// Leaf page: record its annotation object numbers.
	if annotsObj, found := node.Find("Annots"); found {
		if annotsArr, err := ctx.DereferenceArray(annotsObj); err == nil {
			for _, annotRef := range annotsArr {
				if ref, ok := annotRef.(types.IndirectRef); ok {
					pages[ref.ObjectNumber.Value()] = *pageIdx
				}
			}
		}
	}
	*pageIdx++
}

func fieldPage(ctx *model.Context, fieldRef types.Object, fieldDict types.Dict, pages map[int]int) int {
	if ref, ok := fieldRef.(types.IndirectRef); ok {
		if page, ok := pages[ref.ObjectNumber.Value()]; ok {
			return page
		}
	}
	if kidsObj, found := fieldDict.Find("Kids"); found {
		if kidsArr, err := ctx.DereferenceArray(kidsObj); err == nil {
			for _, kidRef := range kidsArr {
				if ref, ok := kidRef.(types.IndirectRef); ok {
					if page, ok := pages[ref.ObjectNumber.Value()]; ok {
						return page
					}
				}
			}
		}
	}
	return 0
}

// pdfFill is one independent writable copy of a template.
type pdfFill struct {
	ctx    *model.Context
	fields map[string]formField
}

// textLiteral encodes a value as a UTF-16BE hex literal with BOM. Hex
// encoding sidesteps literal-string escaping and keeps output deterministic.
func textLiteral(value string) types.HexLiteral {
	units := utf16.Encode([]rune(value))
	buf := make([]byte, 0, 2*len(units)+2)
	buf = append(buf, 0xFE, 0xFF)
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}
	return types.HexLiteral(hex.EncodeToString(buf))
}

func (f *pdfFill) lookup(fieldID string) (formField, error) {
	ff, ok := f.fields[fieldID]
	if !ok {
		return formField{}, &UnknownFieldError{FieldID: fieldID}
	}
	return ff, nil
}

func (f *pdfFill) SetText(fieldID, value string) error {
	ff, err := f.lookup(fieldID)
	if err != nil {
		return err
	}
	ff.dict["V"] = textLiteral(value)
	// Drop any stale appearance stream; NeedAppearances regenerates it.
	delete(ff.dict, "AP")
	return nil
}

func (f *pdfFill) SetCheckbox(fieldID string, checked bool) error {
	ff, err := f.lookup(fieldID)
	if err != nil {
		return err
	}

	state := "Off"
	if checked {
		state = onState(f.ctx, ff)
	}
	ff.dict["V"] = types.Name(state)
	ff.dict["AS"] = types.Name(state)
	for _, kid := range ff.kids {
		kid["AS"] = types.Name(state)
	}
	return nil
}

func (f *pdfFill) SetChoice(fieldID, option string) error {
	ff, err := f.lookup(fieldID)
	if err != nil {
		return err
	}
	if option == "" {
		delete(ff.dict, "V")
	} else {
		ff.dict["V"] = textLiteral(option)
	}
	delete(ff.dict, "I")
	return nil
}

// onState resolves the checkbox's actual "on" appearance state from the
// widget's /AP /N entries. Defaults to Yes when no appearance is declared.
func onState(ctx *model.Context, ff formField) string {
	dicts := append([]types.Dict{ff.dict}, ff.kids...)
	for _, d := range dicts {
		apObj, found := d.Find("AP")
		if !found {
			continue
		}
		apDict, err := ctx.DereferenceDict(apObj)
		if err != nil || apDict == nil {
			continue
		}
		nObj, found := apDict.Find("N")
		if !found {
			continue
		}
		nDict, err := ctx.DereferenceDict(nObj)
		if err != nil || nDict == nil {
			continue
		}
		for state := range nDict {
			if state != "Off" {
				return state
			}
		}
	}
	return "Yes"
}

const (
	flattenFontName = "Helv"
	flattenFontSize = 11.0
)

// Flatten burns the current field values into static page content and
// removes the interactive form: every widget annotation is dropped and the
// catalog's AcroForm entry is deleted, so the output enumerates zero
// fillable fields and cannot be filled again. One-way; call it only after
// all values are final.
func (f *pdfFill) Flatten() error {
	for _, page := range pageDicts(f.ctx) {
		if err := flattenPage(f.ctx, page); err != nil {
			return err
		}
	}

	rootDict, err := f.ctx.Catalog()
	if err != nil {
		return fmt.Errorf("failed to get catalog: %w", err)
	}
	delete(rootDict, "AcroForm")
	return nil
}

// pageDicts returns the leaf page dictionaries in document order.
func pageDicts(ctx *model.Context) []types.Dict {
	rootDict, err := ctx.Catalog()
	if err != nil {
		return nil
	}
	pagesObj, found := rootDict.Find("Pages")
	if !found {
		return nil
	}
	pagesDict, err := ctx.DereferenceDict(pagesObj)
	if err != nil || pagesDict == nil {
		return nil
	}
	var out []types.Dict
	collectPages(ctx, pagesDict, &out, 0)
	return out
}

func collectPages(ctx *model.Context, node types.Dict, out *[]types.Dict, depth int) {
	if depth > 32 {
		return
	}
	if kidsObj, found := node.Find("Kids"); found {
		if kidsArr, err := ctx.DereferenceArray(kidsObj); err == nil {
			for _, kidRef := range kidsArr {
				if kid, err := ctx.DereferenceDict(kidRef); err == nil && kid != nil {
					collectPages(ctx, kid, out, depth+1)
				}
			}
		}
		return
	}
	*out = append(*out, node)
}

// flattenPage renders each widget's value as text at the widget's position,
// then strips the widget annotations from the page.
func flattenPage(ctx *model.Context, page types.Dict) error {
	annotsObj, found := page.Find("Annots")
	if !found {
		return nil
	}
	annotsArr, err := ctx.DereferenceArray(annotsObj)
	if err != nil {
		return nil
	}

	var kept types.Array
	var ops bytes.Buffer
	for _, annotRef := range annotsArr {
		annot, err := ctx.DereferenceDict(annotRef)
		if err != nil || annot == nil || !isWidget(ctx, annot) {
			kept = append(kept, annotRef)
			continue
		}
		text := widgetText(ctx, annot)
		if text == "" {
			continue
		}
		x, y, ok := annotOrigin(ctx, annot)
		if !ok {
			continue
		}
		fmt.Fprintf(&ops, "q BT /%s %.1f Tf 0 g %.2f %.2f Td (%s) Tj ET Q\n",
			flattenFontName, flattenFontSize, x, y, escapeContentString(text))
	}

	if len(kept) == len(annotsArr) {
		return nil
	}
	if len(kept) == 0 {
		delete(page, "Annots")
	} else {
		page["Annots"] = kept
	}
	if ops.Len() == 0 {
		return nil
	}
	if err := ensureFlattenFont(ctx, page); err != nil {
		return err
	}
	return appendPageContent(ctx, page, ops.Bytes())
}

func isWidget(ctx *model.Context, annot types.Dict) bool {
	stObj, found := annot.Find("Subtype")
	if !found {
		return false
	}
	st, err := ctx.DereferenceName(stObj, model.V10, nil)
	return err == nil && st == "Widget"
}

// inheritedEntry resolves a field entry that may live on a parent field
// rather than the widget itself.
func inheritedEntry(ctx *model.Context, d types.Dict, key string, depth int) types.Object {
	if obj, found := d.Find(key); found {
		return obj
	}
	if depth > 8 {
		return nil
	}
	if parentObj, found := d.Find("Parent"); found {
		if parent, err := ctx.DereferenceDict(parentObj); err == nil && parent != nil {
			return inheritedEntry(ctx, parent, key, depth+1)
		}
	}
	return nil
}

// widgetText renders one widget's value for flattening: checked buttons
// become an X mark, text and choice values render verbatim.
func widgetText(ctx *model.Context, annot types.Dict) string {
	vObj := inheritedEntry(ctx, annot, "V", 0)
	if vObj == nil {
		return ""
	}

	ft := ""
	if ftObj := inheritedEntry(ctx, annot, "FT", 0); ftObj != nil {
		if n, err := ctx.DereferenceName(ftObj, model.V10, nil); err == nil {
			ft = string(n)
		}
	}
	if ft == "Btn" {
		if state, err := ctx.DereferenceName(vObj, model.V10, nil); err == nil && state != "" && state != "Off" {
			return "X"
		}
		return ""
	}
	if val, err := ctx.DereferenceStringOrHexLiteral(vObj, model.V10, nil); err == nil {
		return val
	}
	return ""
}

// annotOrigin returns the text origin for a widget: the lower-left corner
// of its Rect, inset so the baseline sits inside the box.
func annotOrigin(ctx *model.Context, annot types.Dict) (float64, float64, bool) {
	rectObj, found := annot.Find("Rect")
	if !found {
		return 0, 0, false
	}
	arr, err := ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) < 4 {
		return 0, 0, false
	}
	nums := make([]float64, 0, 4)
	for _, o := range arr[:4] {
		obj, err := ctx.Dereference(o)
		if err != nil {
			return 0, 0, false
		}
		switch v := obj.(type) {
		case types.Integer:
			nums = append(nums, float64(v.Value()))
		case types.Float:
			nums = append(nums, v.Value())
		default:
			return 0, 0, false
		}
	}
	return math.Min(nums[0], nums[2]) + 2, math.Min(nums[1], nums[3]) + 3, true
}

// escapeContentString escapes the characters with special meaning inside a
// content-stream literal string.
func escapeContentString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ensureFlattenFont guarantees the page's font resources carry the face the
// flattened text is set in.
func ensureFlattenFont(ctx *model.Context, page types.Dict) error {
	var resources types.Dict
	if resObj, found := page.Find("Resources"); found {
		d, err := ctx.DereferenceDict(resObj)
		if err != nil || d == nil {
			return fmt.Errorf("failed to dereference page resources")
		}
		resources = d
	} else {
		resources = types.Dict{}
		page["Resources"] = resources
	}

	var fonts types.Dict
	if fontObj, found := resources.Find("Font"); found {
		d, err := ctx.DereferenceDict(fontObj)
		if err != nil || d == nil {
			return fmt.Errorf("failed to dereference page font resources")
		}
		fonts = d
	} else {
		fonts = types.Dict{}
		resources["Font"] = fonts
	}

	if _, found := fonts.Find(flattenFontName); found {
		return nil
	}
	fontDict := types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
	}
	ref, err := ctx.IndRefForNewObject(fontDict)
	if err != nil {
		return fmt.Errorf("failed to register flatten font: %w", err)
	}
	fonts[flattenFontName] = *ref
	return nil
}

// appendPageContent registers a new content stream and chains it after the
// page's existing content.
func appendPageContent(ctx *model.Context, page types.Dict, content []byte) error {
	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return fmt.Errorf("failed to build content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return fmt.Errorf("failed to encode content stream: %w", err)
	}
	ref, err := ctx.IndRefForNewObject(*sd)
	if err != nil {
		return fmt.Errorf("failed to register content stream: %w", err)
	}

	contentsObj, found := page.Find("Contents")
	if !found {
		page["Contents"] = *ref
		return nil
	}
	if arr, ok := contentsObj.(types.Array); ok {
		page["Contents"] = append(arr, *ref)
		return nil
	}
	page["Contents"] = types.Array{contentsObj, *ref}
	return nil
}

func (f *pdfFill) WriteFile(path string) error {
	if _, acroDict, err := acroFields(f.ctx); err == nil && acroDict != nil {
		acroDict["NeedAppearances"] = types.Boolean(true)
	}
	if err := api.WriteContextFile(f.ctx, path); err != nil {
		return fmt.Errorf("failed to write filled document: %w", err)
	}
	return nil
}
