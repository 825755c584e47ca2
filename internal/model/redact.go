package model

// ForBroadcast strips private fields from m. Email and IP never leave the server.
func ForBroadcast(m Message) View {
	return View{
		Text:     m.Text,
		Time:     FormatTime(m.Time),
		HasEmail: m.HasEmail(),
	}
}

// ForResync projects a full history with the same rules as ForBroadcast.
func ForResync(ms []Message) []View {
	views := make([]View, 0, len(ms))
	for _, m := range ms {
		views = append(views, ForBroadcast(m))
	}
	return views
}
