package rodriver

// LinkedIn page selectors.
const (
	modalSelector  = ".jobs-easy-apply-modal"
	submitSelector = `button[aria-label="Submit application"]`
	nextSelector   = `button[aria-label*="Next"], button[aria-label*="Review"]`
	errorSelector  = ".artdeco-inline-feedback--error"
	confirmModal   = `[data-test-modal-id="postApplyModal"]`
	dismissButton  = `button[aria-label="Dismiss"]`
	fieldAttr      = "data-job-pilot-field"
)

var easyApplySelectors = []string{
	`button[data-view-name="job-apply-button"]`,
	`button.jobs-apply-button[aria-label*="Easy Apply"]`,
	`button[aria-label*="Apply to"]`,
}

var searchTabMarkers = []string{
	"linkedin.com/jobs/search",
	"linkedin.com/jobs/collections",
}

// captureScript reads job cards from a search results page. Cards whose
// markup changed fall back to the title, company, location line order.
const captureScript = `() => {
	let cards = document.querySelectorAll('.job-card-container, .jobs-search-results-list__list-item, [data-job-id]');
	if (cards.length > 50) {
		cards = Array.from(cards).filter(c => c.innerText.includes('\n') && (c.innerText.includes('Easy Apply') || c.querySelector('a')));
	}
	const seen = new Set();
	const out = [];
	cards.forEach(card => {
		const link = card.querySelector('a[href*="/jobs/view/"]');
		if (!link) return;
		const url = link.href.split('?')[0];
		if (seen.has(url)) return;

		const text = sel => {
			const el = card.querySelector(sel);
			return el ? el.innerText.trim() : '';
		};
		let title = text('.job-card-list__title--link, .job-card-list__title, .artdeco-entity-lockup__title a');
		let company = text('.job-card-container__primary-description, .job-card-container__company-name, .artdeco-entity-lockup__subtitle');
		let location = text('.job-card-container__metadata-item, .artdeco-entity-lockup__caption');
		if (!title || !company) {
			const lines = card.innerText.split('\n').map(l => l.trim()).filter(l => l.length > 0);
			if (!title && lines[0]) title = lines[0];
			if (!company && lines[1]) company = lines[1];
			if (!location && lines[2]) location = lines[2];
		}
		if (!title) return;
		seen.add(url);
		out.push({
			url: url,
			title: title.split('\n')[0],
			company: company,
			location: location,
			is_easy_apply: card.innerText.includes('Easy Apply') || !!card.querySelector('.job-card-container__apply-method'),
		});
	});
	return JSON.stringify(out);
}`

// fieldsScript tags every input of the open form with an id attribute and
// describes it.
const fieldsScript = `(modal, attr) => {
	const root = document.querySelector(modal) || document;
	let n = 0;
	const mark = el => {
		const id = String(n++);
		el.setAttribute(attr, id);
		return id;
	};
	const labelOf = el => {
		if (el.id) {
			const l = root.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (l) return l.innerText.trim();
		}
		const wrap = el.closest('label');
		if (wrap) return wrap.innerText.trim();
		return (el.getAttribute('aria-label') || el.getAttribute('placeholder') || '').trim();
	};
	const required = el => el.required || el.getAttribute('aria-required') === 'true';

	const fields = [];
	root.querySelectorAll('input[type="text"], input[type="email"], input[type="tel"], input[type="number"], input:not([type]), textarea').forEach(el => {
		fields.push({id: mark(el), label: labelOf(el), kind: 'text', required: required(el), value: el.value || ''});
	});
	root.querySelectorAll('select').forEach(el => {
		const options = Array.from(el.options).map(o => o.text.trim());
		const value = el.selectedIndex > 0 ? el.options[el.selectedIndex].text.trim() : '';
		fields.push({id: mark(el), label: labelOf(el), kind: 'select', options: options, required: required(el), value: value});
	});
	root.querySelectorAll('fieldset').forEach(fs => {
		const radios = Array.from(fs.querySelectorAll('input[type="radio"]'));
		if (!radios.length) return;
		const legend = fs.querySelector('legend');
		const options = [];
		let value = '';
		radios.forEach(r => {
			const l = r.id ? root.querySelector('label[for="' + CSS.escape(r.id) + '"]') : null;
			const text = l ? l.innerText.trim() : (r.value || '');
			options.push(text);
			if (r.checked) value = text;
		});
		fields.push({
			id: mark(fs),
			label: legend ? legend.innerText.trim() : '',
			kind: 'radio',
			options: options,
			required: radios.some(required) || fs.getAttribute('aria-required') === 'true',
			value: value,
		});
	});
	root.querySelectorAll('input[type="checkbox"]').forEach(el => {
		fields.push({id: mark(el), label: labelOf(el), kind: 'checkbox', required: required(el), checked: el.checked});
	});
	root.querySelectorAll('input[type="file"]').forEach(el => {
		fields.push({id: mark(el), label: labelOf(el), kind: 'file', accept: el.getAttribute('accept') || '', required: el.required});
	});
	return JSON.stringify(fields);
}`

// chooseScript clicks the label of the radio option or checkbox inside the
// tagged element. It reports whether something was clicked.
const chooseScript = `(selector, option) => {
	const target = document.querySelector(selector);
	if (!target) return false;
	const click = input => {
		const l = input.id ? document.querySelector('label[for="' + CSS.escape(input.id) + '"]') : null;
		(l || input).click();
		return true;
	};
	if (target.matches('input[type="checkbox"]')) {
		return target.checked ? true : click(target);
	}
	const want = option.toLowerCase();
	for (const r of target.querySelectorAll('input[type="radio"]')) {
		const l = r.id ? document.querySelector('label[for="' + CSS.escape(r.id) + '"]') : null;
		const text = (l ? l.innerText : r.value || '').trim().toLowerCase();
		if (text === want) return click(r);
	}
	return false;
}`
