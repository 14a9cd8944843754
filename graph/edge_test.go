package graph

import "testing"

func TestArrow_IsFirstOnly(t *testing.T) {
	t.Run("target handle suffix marks first-only", func(t *testing.T) {
		a := &Arrow{Target: HandleRef{HandleName: "seed-first"}}
		if !a.IsFirstOnly() {
			t.Error("arrow with -first target handle suffix should be first-only")
		}
	})

	t.Run("plain handle is not first-only", func(t *testing.T) {
		a := &Arrow{Target: HandleRef{HandleName: "seed"}}
		if a.IsFirstOnly() {
			t.Error("arrow without -first suffix should not be first-only")
		}
	})

	t.Run("empty handle is not first-only", func(t *testing.T) {
		a := &Arrow{}
		if a.IsFirstOnly() {
			t.Error("arrow with empty handle should not be first-only")
		}
	})
}

func TestArrow_BranchRequirement(t *testing.T) {
	tests := []struct {
		name      string
		label     string
		handle    string
		wantWant  bool
		wantFound bool
	}{
		{"label true", "true", "", true, true},
		{"label yes", "yes", "", true, true},
		{"label 1", "1", "", true, true},
		{"label false", "false", "", false, true},
		{"label no", "no", "", false, true},
		{"label 0", "0", "", false, true},
		{"handle name true fallback", "", "true", true, true},
		{"unrelated label", "other", "", false, false},
		{"empty label and handle", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Arrow{Label: tt.label, Target: HandleRef{HandleName: tt.handle}}
			got, found := a.BranchRequirement()
			if got != tt.wantWant || found != tt.wantFound {
				t.Errorf("BranchRequirement() = (%v, %v), want (%v, %v)", got, found, tt.wantWant, tt.wantFound)
			}
		})
	}
}

func TestContentType_Constants(t *testing.T) {
	kinds := []ContentType{
		ContentRawText, ContentConversationState, ContentVariable, ContentJSON,
		ContentTemplate, ContentAggregation, ContentFilter, ContentErrorHandling,
	}
	seen := make(map[ContentType]bool)
	for _, k := range kinds {
		if k == "" {
			t.Error("content type constant should not be empty")
		}
		if seen[k] {
			t.Errorf("duplicate content type: %v", k)
		}
		seen[k] = true
	}
}

func TestHandleRef_Fields(t *testing.T) {
	ref := HandleRef{NodeID: "n1", HandleName: "out"}
	if ref.NodeID != "n1" || ref.HandleName != "out" {
		t.Errorf("HandleRef = %+v", ref)
	}
}

func TestArrow_Construction(t *testing.T) {
	a := &Arrow{
		ID:          "arrow-1",
		Source:      HandleRef{NodeID: "a", HandleName: "default"},
		Target:      HandleRef{NodeID: "b", HandleName: "default"},
		Label:       "payload",
		ContentType: ContentJSON,
		Data:        map[string]any{"key": "value"},
	}

	if a.Source.NodeID != "a" || a.Target.NodeID != "b" {
		t.Errorf("arrow endpoints: source=%q target=%q", a.Source.NodeID, a.Target.NodeID)
	}
	if a.ContentType != ContentJSON {
		t.Errorf("ContentType = %v, want ContentJSON", a.ContentType)
	}
}
