package partner

// Canned text for mock mode and for turns whose paid call was skipped or
// failed. Keys are primary language subtags; English is the default.

var fallbackSentences = map[string]string{
	"en": "I'm sorry, I didn't quite catch that. Could you say it again?",
	"id": "Maaf, saya kurang menangkap maksud Anda. Bisa diulangi?",
}

var greetings = map[string]string{
	"en": "Hello, thanks for picking up. Do you have a moment?",
	"id": "Halo, terima kasih sudah mengangkat telepon. Apakah Anda punya waktu sebentar?",
}

var cannedReplies = map[string]map[string][]string{
	"en": {
		"": {
			"I see. Could you tell me a bit more about that?",
			"Okay, that makes sense. What would you suggest we do next?",
			"Hmm, I'm not entirely sure I follow. Can you explain it differently?",
			"Alright. And how long would that take?",
			"Thanks, that helps. Is there anything else I should know?",
		},
		"customer_service": {
			"I've been waiting for a solution for days. What can you actually do for me?",
			"Okay, but will this fix the problem for good?",
			"That's not what the last person told me. Can you check again?",
			"Fine. When can I expect this to be resolved?",
		},
		"job_interview": {
			"Tell me about a time you handled a difficult situation at work.",
			"Why do you want to join our team in particular?",
			"What would your previous manager say is your biggest weakness?",
			"Where do you see yourself in five years?",
		},
		"sales": {
			"That sounds interesting, but the price seems high. Why is it worth it?",
			"How is this different from what I'm using now?",
			"I'd need to talk to my team first. What can you send me?",
			"Is there a trial period?",
		},
	},
	"id": {
		"": {
			"Baik, saya mengerti. Bisa dijelaskan lebih lanjut?",
			"Oke, masuk akal. Menurut Anda langkah berikutnya apa?",
			"Hmm, saya kurang paham. Bisa dijelaskan dengan cara lain?",
			"Baik. Berapa lama itu akan memakan waktu?",
			"Terima kasih, itu membantu. Ada hal lain yang perlu saya ketahui?",
		},
		"customer_service": {
			"Saya sudah menunggu solusi berhari-hari. Apa yang bisa Anda lakukan untuk saya?",
			"Oke, tapi apakah ini akan menyelesaikan masalahnya untuk seterusnya?",
			"Itu berbeda dengan yang dikatakan petugas sebelumnya. Bisa dicek lagi?",
			"Baik. Kapan masalah ini akan selesai?",
		},
		"job_interview": {
			"Ceritakan saat Anda menghadapi situasi sulit di tempat kerja.",
			"Mengapa Anda ingin bergabung dengan tim kami?",
			"Apa kelemahan terbesar Anda menurut atasan sebelumnya?",
			"Di mana Anda melihat diri Anda lima tahun lagi?",
		},
		"sales": {
			"Kedengarannya menarik, tapi harganya tinggi. Kenapa sepadan?",
			"Apa bedanya dengan yang saya pakai sekarang?",
			"Saya perlu bicara dengan tim dulu. Apa yang bisa Anda kirimkan?",
			"Apakah ada masa percobaan?",
		},
	},
}

// FallbackSentence is the fixed reply used when a paid call is skipped or
// failed.
func FallbackSentence(language string) string {
	if s, ok := fallbackSentences[languageKey(language)]; ok {
		return s
	}
	return fallbackSentences["en"]
}

// Greeting is the canned opening line in language.
func Greeting(language string) string {
	if s, ok := greetings[languageKey(language)]; ok {
		return s
	}
	return greetings["en"]
}

// cannedReply returns the n-th canned reply for the language and scenario,
// cycling through the list.
func cannedReply(language, scenario string, n int) string {
	byScenario, ok := cannedReplies[languageKey(language)]
	if !ok {
		byScenario = cannedReplies["en"]
	}
	replies, ok := byScenario[scenario]
	if !ok {
		replies = byScenario[""]
	}
	return replies[n%len(replies)]
}
