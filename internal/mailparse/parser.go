// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mailparse decodes raw MIME bytes into the canonical Envelope.
// The part tree is walked explicitly; attachment bytes are counted and
// discarded, never retained.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/meridian-crm/ingestion/internal/models"
)

// Part is one node of the decoded MIME tree. Leaf parts hold either
// retained text or a byte count; container parts own their children.
type Part struct {
	MediaType   string
	Params      map[string]string
	Disposition string
	Filename    string
	ContentID   string
	Text        string // retained for text/* leaves only
	SizeBytes   int64
	Children    []*Part
}

// IsAttachment reports whether this part should be listed as an
// attachment rather than considered for the message body.
func (p *Part) IsAttachment() bool {
	if p.Disposition == "attachment" {
		return true
	}
	// Inline parts with a filename are still attachments in practice.
	return p.Filename != "" && !strings.HasPrefix(p.MediaType, "multipart/")
}

// Decode parses raw RFC 822 bytes into an Envelope. adminAddress is the
// system's own inbound address; it is stripped from the recipient lists
// so the pipeline never treats the system as a contact.
func Decode(raw []byte, adminAddress string) (*models.Envelope, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	mh := mail.Header{Header: ent.Header}

	env := &models.Envelope{}
	env.Subject, _ = mh.Subject()
	if date, err := mh.Date(); err == nil {
		env.Date = date
	}

	if from, err := mh.AddressList("From"); err == nil && len(from) > 0 {
		env.FromAddress = from[0].Address
		env.FromDisplayName = from[0].Name
	}
	env.ToAddresses = recipientList(mh, "To", adminAddress)
	env.CcAddresses = recipientList(mh, "Cc", adminAddress)

	root, err := buildTree(ent)
	if err != nil {
		return nil, fmt.Errorf("walk parts: %w", err)
	}

	env.BodyText = selectBody(root)
	env.Attachments = collectAttachments(root)

	return env, nil
}

// recipientList parses an address header and drops the administrative
// address from the result.
func recipientList(mh mail.Header, key, adminAddress string) []string {
	admin := models.NormalizeAddress(adminAddress)
	addrs, err := mh.AddressList(key)
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		if admin != "" && models.NormalizeAddress(a.Address) == admin {
			continue
		}
		out = append(out, a.Address)
	}
	return out
}

// buildTree recursively converts a message entity into a Part node.
// Text leaves retain their decoded content; all other leaves are
// drained through a counter so bytes are never held.
func buildTree(ent *message.Entity) (*Part, error) {
	mediaType, params, _ := ent.Header.ContentType()

	p := &Part{
		MediaType: strings.ToLower(mediaType),
		Params:    params,
	}

	disp, dispParams, _ := ent.Header.ContentDisposition()
	p.Disposition = strings.ToLower(disp)
	if f, ok := dispParams["filename"]; ok {
		p.Filename = f
	} else if n, ok := params["name"]; ok {
		p.Filename = n
	}
	p.ContentID = strings.Trim(ent.Header.Get("Content-Id"), "<>")

	if mr := ent.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			cp, err := buildTree(child)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, cp)
		}
		return p, nil
	}

	if strings.HasPrefix(p.MediaType, "text/") && !p.IsAttachment() {
		data, err := io.ReadAll(ent.Body)
		if err != nil {
			return nil, err
		}
		p.Text = string(data)
		p.SizeBytes = int64(len(data))
		return p, nil
	}

	n, err := io.Copy(io.Discard, ent.Body)
	if err != nil {
		return nil, err
	}
	p.SizeBytes = n
	return p, nil
}

// selectBody picks the message body: the first text/plain part, falling
// back to the first text/html part converted to plain text.
func selectBody(root *Part) string {
	if plain := findText(root, "text/plain"); plain != "" {
		return plain
	}
	if html := findText(root, "text/html"); html != "" {
		return htmlToText(html)
	}
	return ""
}

func findText(p *Part, mediaType string) string {
	if p.MediaType == mediaType && !p.IsAttachment() && p.Text != "" {
		return p.Text
	}
	for _, c := range p.Children {
		if t := findText(c, mediaType); t != "" {
			return t
		}
	}
	return ""
}

// collectAttachments enumerates attachment metadata across the tree.
func collectAttachments(root *Part) []models.AttachmentInfo {
	var out []models.AttachmentInfo
	var walk func(p *Part)
	walk = func(p *Part) {
		if p.IsAttachment() {
			ref := p.ContentID
			if ref == "" {
				ref = fmt.Sprintf("part-%d", len(out)+1)
			}
			out = append(out, models.AttachmentInfo{
				Filename:      p.Filename,
				ContentType:   p.MediaType,
				SizeBytes:     p.SizeBytes,
				AttachmentRef: ref,
			})
			return
		}
		for _, c := range p.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
