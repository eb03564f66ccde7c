package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/filex"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"
	"github.com/google/uuid"
)

func typeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Send relays a local file to recipient through the live relay.
func (a *App) Send(ctx context.Context, recipient, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	if err := a.client.Connect(ctx); err != nil {
		return err
	}
	defer a.client.Disconnect()

	req := relay.InitiateRequest{
		RecipientID: recipient,
		FileID:      uuid.NewString(),
		FileName:    filepath.Base(path),
		FileSize:    st.Size(),
	}

	fmt.Fprintf(a.out, "Waiting for %s to accept %s...\n", recipient, req.FileName)
	if err := a.client.SendFile(ctx, req, f, a.config.ChunkSize); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Sent %s (%d bytes) to %s\n", req.FileName, st.Size(), recipient)
	return nil
}

// Receive waits for one offer and stores the file in dir under its
// offered name. The file only appears once the transfer completes.
func (a *App) Receive(ctx context.Context, dir string) error {
	dir, err := filex.EnsureDir(dir)
	if err != nil {
		return err
	}

	if err := a.client.Connect(ctx); err != nil {
		return err
	}
	defer a.client.Disconnect()

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = filex.RemoveIfExists(tmp.Name())
	}()

	fmt.Fprintln(a.out, "Waiting for incoming files...")
	offer, err := a.client.ReceiveFile(ctx, a.accept, tmp)
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	name := filepath.Base(filepath.Clean("/" + offer.FileName))
	if name == "/" || name == "." {
		name = offer.FileID
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Received %s from %s into %s\n", offer.FileName, offer.SenderName, dst)
	return nil
}

func (a *App) accept(tr relay.TransferRequest) bool {
	if !a.interactive {
		return true
	}
	ok, err := Confirm(a.in, a.out, fmt.Sprintf("Accept %s (%d bytes) from %s?", tr.FileName, tr.FileSize, tr.SenderName))
	return err == nil && ok
}

// Upload stores a file encrypted on the server and prints its descriptor.
func (a *App) Upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	obj, err := a.client.Upload(ctx, filepath.Base(path), typeOf(path), st.Size(), f)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

// Record registers an uploaded file as sent to recipient.
func (a *App) Record(ctx context.Context, recipient, handle, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}

	id, err := a.client.RecordTransfer(ctx, transfers.RecordRequest{
		RecipientID:   recipient,
		FileName:      filepath.Base(path),
		FileSize:      st.Size(),
		FileType:      typeOf(path),
		StorageHandle: handle,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Recorded transfer %s\n", id)
	return nil
}

// Download saves a stored transfer to path.
func (a *App) Download(ctx context.Context, transferID, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = filex.RemoveIfExists(f.Name())
	}()

	n, err := a.client.Download(ctx, transferID, f)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Saved %d bytes to %s (%.1f MiB)\n", n, path, float64(n)/common.MiB)
	return nil
}
