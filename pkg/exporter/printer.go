package exporter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"hive/pkg/core"
	"hive/pkg/storage"
	"hive/pkg/types"

	"github.com/dustin/go-humanize"
)

// PrintObject 按对象类型打印可读的描述
// Blob 只打印大小，内容请用 ExportFile
func PrintObject(ctx context.Context, store storage.Store, id types.ObjectID, w io.Writer) error {
	data, err := storage.ReadAll(ctx, store, id)
	if err != nil {
		return err
	}

	switch core.PeekType(data) {
	case core.TypeTree:
		return printTree(data, w)
	case core.TypeManifestRef:
		return printRef(data, w)
	case core.TypeManifest:
		m, err := core.DecodeManifest(data)
		if err != nil {
			return err
		}
		PrintManifest(m, w)
		return nil
	default:
		fmt.Fprintf(w, "Type: Blob\nSize: %s (%d bytes)\n", humanize.IBytes(uint64(len(data))), len(data))
		return nil
	}
}

// PrintManifest 打印 Manifest 的根和标签
func PrintManifest(m *core.Manifest, w io.Writer) {
	fmt.Fprintf(w, "Type:  Manifest\n")
	fmt.Fprintf(w, "Key:   %s\n", m.Key)
	fmt.Fprintf(w, "Root:  %s\n", m.RootID())
	names := m.LabelNames()
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "\nLabels:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, name := range names {
		value, _ := m.Label(name)
		fmt.Fprintf(tw, "  %s\t%s\n", name, value)
	}
	tw.Flush()
}

func printTree(data []byte, w io.Writer) error {
	t, err := core.DecodeTree(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Tree\n\n")

	// 使用 tabwriter 对齐输出 (像 git ls-tree)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tHASH\tNAME\n")
	for _, entry := range t.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Type, entry.Cid.Hash.Short(), entry.Name)
	}
	return tw.Flush()
}

func printRef(data []byte, w io.Writer) error {
	ref, err := core.DecodeManifestRef(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Type: Manifest Reference\nKey:  %s\n", ref.Key)
	return nil
}

// LabelLine 把标签压成一行 "k=v k=v"
func LabelLine(m *core.Manifest) string {
	names := m.LabelNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		value, _ := m.Label(name)
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, " ")
}
