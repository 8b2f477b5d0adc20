package publisher

// artistGroup maps a group tag to the keywords that identify it in a title.
type artistGroup struct {
	Group    string
	Keywords []string
}

// artistGroups is checked in order; the first matching keyword of each group wins.
var artistGroups = []artistGroup{
	{"세븐틴", []string{"세븐틴", "SEVENTEEN", "에스쿱스", "정한", "조슈아", "준", "호시", "원우", "우지", "디에잇", "민규", "도겸", "승관", "버논", "디노"}},
	{"BTS", []string{"BTS", "방탄소년단", "RM", "진", "슈가", "제이홉", "지민", "뷔", "정국"}},
	{"블랙핑크", []string{"블랙핑크", "BLACKPINK", "지수", "제니", "로제", "리사"}},
	{"뉴진스", []string{"뉴진스", "NewJeans", "민지", "하니", "다니엘", "해린", "혜인"}},
	{"아이브", []string{"아이브", "IVE", "유진", "가을", "레이", "원영", "리즈", "이서"}},
	{"르세라핌", []string{"르세라핌", "LE SSERAFIM", "김채원", "사쿠라", "허윤진", "카즈하", "홍은채"}},
	{"(여자)아이들", []string{"(여자)아이들", "G-IDLE", "미연", "민니", "소연", "우기", "슈화"}},
	{"에스파", []string{"에스파", "aespa", "카리나", "지젤", "윈터", "닝닝"}},
	{"트와이스", []string{"트와이스", "TWICE", "나연", "정연", "모모", "사나", "지효", "미나", "다현", "채영", "쯔위"}},
}
