package pipeline

import (
	"reflect"
	"testing"
)

func TestSplitIntoSentencesSplitsOnTerminatorAndWhitespace(t *testing.T) {
	got := splitIntoSentences("Hello there. How are you? I am fine!")
	want := []string{"Hello there.", "How are you?", "I am fine!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSplitIntoSentencesKeepsTrailingFragmentWithoutTerminator(t *testing.T) {
	got := splitIntoSentences("First sentence. trailing fragment")
	want := []string{"First sentence.", "trailing fragment"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSplitIntoSentencesHandlesEmptyString(t *testing.T) {
	if got := splitIntoSentences(""); got != nil {
		t.Fatalf("got %#v, want nil", got)
	}
}

func TestSplitIntoSentencesDoesNotSplitOnMidWordPeriod(t *testing.T) {
	got := splitIntoSentences("Visit example.com today.")
	want := []string{"Visit example.com today."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}
