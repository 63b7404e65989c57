package policy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// XMLVersion is written on the ranking root element. Bump only with a
// migration path for older snapshots.
const XMLVersion = 1

const (
	tagRanking = "ranking"
	tagPackage = "package"
	tagChannel = "channel"

	attrVersion    = "version"
	attrName       = "name"
	attrUID        = "uid"
	attrID         = "id"
	attrImportance = "importance"
	attrPriority   = "priority"
	attrVisibility = "visibility"

	attrAllowed          = "allowed"
	attrBypassDND        = "bypass_dnd"
	attrSound            = "sound"
	attrLights           = "lights"
	attrVibration        = "vibration"
	attrVibrationEnabled = "vibration_enabled"
	attrShowBadge        = "show_badge"
	attrLocked           = "locked"
)

// WriteXML serializes every record with non-default settings. In backup mode
// records outside the primary user scope are skipped and the uid attribute
// is omitted, since uids are not portable across devices. Staged records are
// not written; they only exist between a restore and the matching install.
func (s *Store) WriteXML(w io.Writer, forBackup bool) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	root := xml.StartElement{
		Name: xml.Name{Local: tagRanking},
		Attr: []xml.Attr{mkAttr(attrVersion, strconv.Itoa(XMLVersion))},
	}
	if err := enc.EncodeToken(root); err != nil {
		return fmt.Errorf("encode ranking element: %w", err)
	}
	for _, r := range s.sortedRecords() {
		if forBackup && UserScopeOf(r.UID) != PrimaryScope {
			continue
		}
		if !r.hasNonDefaultSettings() {
			continue
		}
		pkgEl := xml.StartElement{Name: xml.Name{Local: tagPackage}}
		pkgEl.Attr = append(pkgEl.Attr, mkAttr(attrName, r.Pkg))
		if r.Importance != ImportanceUnspecified {
			pkgEl.Attr = append(pkgEl.Attr, mkAttr(attrImportance, strconv.Itoa(int(r.Importance))))
		}
		if r.Priority != PriorityDefault {
			pkgEl.Attr = append(pkgEl.Attr, mkAttr(attrPriority, strconv.Itoa(int(r.Priority))))
		}
		if r.Visibility != VisibilityNoOverride {
			pkgEl.Attr = append(pkgEl.Attr, mkAttr(attrVisibility, strconv.Itoa(int(r.Visibility))))
		}
		if !forBackup {
			pkgEl.Attr = append(pkgEl.Attr, mkAttr(attrUID, strconv.Itoa(r.UID)))
		}
		if err := enc.EncodeToken(pkgEl); err != nil {
			return fmt.Errorf("encode package element: %w", err)
		}
		for _, ch := range r.sortedChannels() {
			chEl := xml.StartElement{Name: xml.Name{Local: tagChannel}, Attr: ch.xmlAttrs()}
			if err := enc.EncodeToken(chEl); err != nil {
				return fmt.Errorf("encode channel element: %w", err)
			}
			if err := enc.EncodeToken(chEl.End()); err != nil {
				return fmt.Errorf("encode channel element: %w", err)
			}
		}
		if err := enc.EncodeToken(pkgEl.End()); err != nil {
			return fmt.Errorf("encode package element: %w", err)
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("encode ranking element: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("flush policy xml: %w", err)
	}
	return nil
}

// ReadXML replaces the store contents with the records parsed from rd. In
// restore mode the uid attribute is ignored and recomputed through the
// identity resolver; packages not yet installed land in the staging index.
// Any ErrParse return leaves the store cleared, never partially loaded.
func (s *Store) ReadXML(rd io.Reader, forRestore bool) error {
	dec := xml.NewDecoder(rd)
	var root xml.StartElement
findRoot:
	for {
		tok, err := dec.Token()
		if err != nil {
			s.clear()
			return fmt.Errorf("%w: no root element: %v", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			root = t
			break findRoot
		}
	}
	if root.Name.Local != tagRanking {
		s.clear()
		return fmt.Errorf("%w: unexpected root element %q", ErrParse, root.Name.Local)
	}
	s.clear()
	for {
		tok, err := dec.Token()
		if err != nil {
			s.clear()
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: ranking element not closed", ErrParse)
			}
			return fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == tagRanking {
				return nil
			}
		case xml.StartElement:
			if t.Name.Local != tagPackage {
				continue
			}
			if err := s.readPackage(dec, t, forRestore); err != nil {
				s.clear()
				return err
			}
		}
	}
}

// readPackage consumes one <package> element and its channels. The caller
// has already decoded the start element.
func (s *Store) readPackage(dec *xml.Decoder, pkgEl xml.StartElement, forRestore bool) error {
	name := strAttr(pkgEl, attrName)
	if name == "" {
		// Children fall through to the outer loop, which ignores them.
		return nil
	}
	uid := intAttr(pkgEl, attrUID, UnknownUID)
	if forRestore && s.resolver != nil {
		if id, err := s.resolver.ResolveUID(name, PrimaryScope); err == nil {
			uid = id
		} else {
			s.log.Debug("restore uid unresolved", "package", name, "error", err)
		}
	}
	r := s.getOrCreate(name, uid,
		Importance(intAttr(pkgEl, attrImportance, int(ImportanceUnspecified))),
		Priority(intAttr(pkgEl, attrPriority, int(PriorityDefault))),
		Visibility(intAttr(pkgEl, attrVisibility, int(VisibilityNoOverride))))
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: package element not closed: %v", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == tagChannel {
				if ch := channelFromElement(t); ch != nil {
					r.Channels[ch.ID] = ch
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	s.clampDefaultChannel(r)
	return nil
}

func mkAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func strAttr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// intAttr returns the integer value of an attribute, falling back to def
// when the attribute is absent or unparsable.
func intAttr(se xml.StartElement, name string, def int) int {
	v := strAttr(se, name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolAttr(se xml.StartElement, name string, def bool) bool {
	v := strAttr(se, name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
