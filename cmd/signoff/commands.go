package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"signoff/internal/ack"
	"signoff/internal/export"
	"signoff/internal/search"
	"signoff/internal/store"
)

func (e *env) runSave(ctx context.Context, args []string) error {
	fs := newFlagSet("save", e.stderr)
	id := fs.String("id", "", "document `id`")
	lastMod := fs.Int64("lastmod", 0, "modification time (unix seconds)")
	minor := fs.Bool("minor", false, "minor edit, keeps acknowledgements current")
	created := fs.Bool("created", false, "first save of a new document")
	contentFile := fs.String("content", "", "new document content `file`, scanned for ~~ACK:...~~")
	oldFile := fs.String("old", "", "previous content `file`, used to ignore line-break-only changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	substantive := !*minor
	var content string
	if *contentFile != "" {
		data, err := os.ReadFile(*contentFile)
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		content = string(data)

		var old string
		if *oldFile != "" {
			data, err := os.ReadFile(*oldFile)
			if err != nil {
				return fmt.Errorf("read old content: %w", err)
			}
			old = string(data)
		}
		if *oldFile != "" || *created {
			substantive = ack.IsSubstantiveChange(*minor, old, content)
		}
	}

	if err := e.svc.OnDocumentSaved(ctx, ack.SaveEvent{
		ID:          *id,
		LastMod:     *lastMod,
		Substantive: substantive,
		Created:     *created,
	}); err != nil {
		return err
	}
	if *contentFile != "" {
		if _, err := e.svc.ApplyMarkup(ctx, *id, content); err != nil {
			return err
		}
	}
	fmt.Fprintf(e.stdout, "saved\t%s\tsubstantive=%t\n", *id, substantive)
	return nil
}

func (e *env) runDelete(ctx context.Context, args []string) error {
	fs := newFlagSet("delete", e.stderr)
	id := fs.String("id", "", "document `id`")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("delete: -id is required")
	}
	return e.svc.OnDocumentDeleted(ctx, *id)
}

func (e *env) runAck(ctx context.Context, args []string) error {
	fs := newFlagSet("ack", e.stderr)
	id := fs.String("id", "", "document `id`")
	user := fs.String("user", "", "acknowledging `user`")
	groups := fs.String("groups", "", "comma-separated groups of the user, defaults to the directory file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	at, err := e.svc.Acknowledge(ctx, *id, *user, e.groupsOf(*user, *groups))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s\t%s\t%s\n", *id, *user, formatUnix(at))
	return nil
}

func (e *env) runState(ctx context.Context, args []string) error {
	fs := newFlagSet("state", e.stderr)
	id := fs.String("id", "", "document `id`")
	user := fs.String("user", "", "`user` to show")
	groups := fs.String("groups", "", "comma-separated groups of the user, defaults to the directory file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *user == "" {
		return fmt.Errorf("state: -id and -user are required")
	}
	state, err := e.svc.AcknowledgementState(ctx, *id, *user, e.groupsOf(*user, *groups))
	if err != nil {
		return err
	}
	latest := "-"
	if state.Latest != nil {
		latest = formatUnix(*state.Latest)
	}
	fmt.Fprintf(e.stdout, "assigned=%t	current=%t	lastmod=%s	latest=%s\n",
		state.Assigned, state.Current, formatUnix(state.LastMod), latest)
	return nil
}

func (e *env) runRules(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("rules: expected list or import")
	}
	switch args[0] {
	case "list":
		rules, err := e.svc.ListRules(ctx)
		if err != nil {
			return err
		}
		for _, rule := range sortedRules(rules) {
			fmt.Fprintf(e.stdout, "%s\t%s\n", rule.Pattern, rule.Assignees)
		}
		return nil
	case "import":
		fs := newFlagSet("rules import", e.stderr)
		file := fs.String("file", "", "YAML `file` mapping patterns to assignee expressions")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		rules, err := loadRules(*file)
		if err != nil {
			return err
		}
		warnings, err := e.svc.ReplaceAll(ctx, rules)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(e.stderr, "warning: %s\n", w.Error())
		}
		fmt.Fprintf(e.stdout, "imported %d rules\n", len(rules))
		return nil
	default:
		return fmt.Errorf("rules: unknown action %q", args[0])
	}
}

// loadRules reads a YAML mapping of pattern to assignee expression.
func loadRules(path string) (map[string]string, error) {
	if path == "" {
		return nil, fmt.Errorf("rules import: -file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	rules := map[string]string{}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return rules, nil
}

func sortedRules(rules map[string]string) []store.Rule {
	out := make([]store.Rule, 0, len(rules))
	for pattern, assignees := range rules {
		out = append(out, store.Rule{Pattern: pattern, Assignees: assignees})
	}
	sortRules(out)
	return out
}

func (e *env) runReport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("report: expected pending, history, listing, document, pattern or recent")
	}
	kind := args[0]
	fs := newFlagSet("report "+kind, e.stderr)
	user := fs.String("user", "", "restrict to this `user`")
	groups := fs.String("groups", "", "comma-separated groups of the user, defaults to the directory file")
	id := fs.String("id", "", "document `id`")
	pattern := fs.String("pattern", "", "document `pattern`")
	statusFlag := fs.String("status", "all", "all, current, due or outdated")
	limit := fs.Int("limit", 0, "maximum number of rows, 0 for the default")
	asCSV := fs.Bool("csv", false, "write CSV instead of tab-separated text")
	upload := fs.Bool("upload", false, "store the CSV report in object storage")
	all := fs.Bool("all", false, "listing: include acknowledged documents")
	contentFile := fs.String("content", "", "listing: document content `file` holding ~~ACKNOWLEDGE~~ markup")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	status, err := ack.ParseStatus(*statusFlag)
	if err != nil {
		return err
	}

	var rows []ack.Record
	switch kind {
	case "pending":
		if *user == "" {
			return fmt.Errorf("report pending: -user is required")
		}
		docs, err := e.svc.PendingForUser(ctx, *user, e.groupsOf(*user, *groups))
		if err != nil {
			return err
		}
		rows = make([]ack.Record, 0, len(docs))
		for _, doc := range docs {
			rows = append(rows, ack.Record{DocumentID: doc.DocumentID, User: *user, LastMod: doc.LastMod, Ack: doc.Ack})
		}
	case "history":
		if *user == "" {
			return fmt.Errorf("report history: -user is required")
		}
		if rows, err = e.svc.HistoryForUser(ctx, *user, e.groupsOf(*user, *groups), status); err != nil {
			return err
		}
		if status == ack.StatusAll {
			fmt.Fprintf(e.stderr, "%s: %s\n", *user, ack.Summarize(rows))
		}
	case "listing":
		if *user == "" {
			return fmt.Errorf("report listing: -user is required")
		}
		includeDone := *all
		if *contentFile != "" {
			data, err := os.ReadFile(*contentFile)
			if err != nil {
				return fmt.Errorf("read content: %w", err)
			}
			found, listAll := ack.ParseListingMarkup(string(data))
			if !found {
				return nil
			}
			includeDone = includeDone || listAll
		}
		if rows, err = e.svc.AssignmentsForUser(ctx, *user, e.groupsOf(*user, *groups), includeDone); err != nil {
			return err
		}
	case "document":
		if *id == "" {
			return fmt.Errorf("report document: -id is required")
		}
		if rows, err = e.svc.StatusForDocument(ctx, *id, *user, status, *limit); err != nil {
			return err
		}
	case "pattern":
		report, err := e.svc.StatusForPattern(ctx, *pattern, *user, status, *limit)
		if err != nil {
			return err
		}
		rows = report.Records
		if report.Truncated {
			fmt.Fprintf(e.stderr, "report truncated after %d rows\n", len(rows))
		}
	case "recent":
		if rows, err = e.svc.RecentAcknowledgements(ctx, *limit); err != nil {
			return err
		}
	default:
		return fmt.Errorf("report: unknown kind %q", kind)
	}

	if *upload {
		if e.cfg.MinioEndpoint == "" {
			return fmt.Errorf("report: -upload needs MINIO_ENDPOINT")
		}
		uploader, err := export.NewUploader(export.UploaderConfig{
			Endpoint:  e.cfg.MinioEndpoint,
			AccessKey: e.cfg.MinioAccessKey,
			SecretKey: e.cfg.MinioSecretKey,
			Bucket:    e.cfg.MinioBucket,
			UseSSL:    e.cfg.MinioUseSSL,
		}, e.logger)
		if err != nil {
			return err
		}
		key, err := uploader.Upload(ctx, kind, rows)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, key)
		return nil
	}
	if *asCSV {
		return export.WriteCSV(e.stdout, rows)
	}
	return writeRecords(e.stdout, rows)
}

func writeRecords(w io.Writer, rows []ack.Record) error {
	for _, row := range rows {
		ackCell := "-"
		if row.Ack != nil {
			ackCell = formatUnix(*row.Ack)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.DocumentID, row.User, formatUnix(row.LastMod), ackCell); err != nil {
			return err
		}
	}
	return nil
}

func formatUnix(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func (e *env) runIndex(ctx context.Context, args []string) error {
	fs := newFlagSet("index", e.stderr)
	file := fs.String("file", "", "`file` with one \"id lastmod\" pair per line, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var docs []store.Document
	if *file != "" {
		var r io.Reader = os.Stdin
		if *file != "-" {
			f, err := os.Open(*file)
			if err != nil {
				return fmt.Errorf("open index file: %w", err)
			}
			defer f.Close()
			r = f
		}
		var err error
		if docs, err = parseIndexFile(r); err != nil {
			return err
		}
	}

	added, err := e.svc.IndexDocuments(ctx, docs)
	if err != nil {
		return err
	}
	documents, users, err := e.search.ReindexAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "added %d documents, search index: %d documents, %d users\n", added, documents, users)
	return nil
}

// parseIndexFile reads "id lastmod" lines. Blank lines and lines starting with # are skipped.
func parseIndexFile(r io.Reader) ([]store.Document, error) {
	docs := make([]store.Document, 0)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("index file line %d: expected \"id lastmod\"", line)
		}
		lastMod, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index file line %d: %w", line, err)
		}
		docs = append(docs, store.Document{ID: fields[0], LastMod: lastMod})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return docs, nil
}

func (e *env) runLookup(ctx context.Context, args []string) error {
	fs := newFlagSet("lookup", e.stderr)
	q := fs.String("q", "", "search `text`")
	typ := fs.String("type", "", "document or user, both when empty")
	limit := fs.Int("limit", 20, "maximum results per kind")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := search.ResultType(*typ)
	if filter != "" && filter != search.ResultDocument && filter != search.ResultUser {
		return fmt.Errorf("lookup: unknown type %q", *typ)
	}
	for _, r := range e.search.Lookup(ctx, search.Query{Text: *q, FilterType: filter, Limit: *limit}) {
		fmt.Fprintf(e.stdout, "%s\t%s\n", r.Type, r.ID)
	}
	return nil
}

func sortRules(rules []store.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Pattern < rules[j].Pattern })
}
